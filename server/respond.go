package server

import (
	"encoding/json"
	"net/http"

	"cotrack/core/playlist"
	"cotrack/logger"
	"cotrack/model"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

// writeError 按业务错误映射状态码，5xx 只返回笼统信息
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := playlist.HTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("请求处理失败",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.ErrorField(err))
		message = "internal server error"
	}
	writeJSON(w, status, model.ErrorResponse{Error: message, Code: playlist.ErrorCode(err)})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: message, Code: playlist.CodeInvalidInput})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(v)
}
