package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIResponseCode is the business status carried in the envelope. The HTTP
// status of an admin response is always 200.
type APIResponseCode int

const (
	APIResponseCodeOK         APIResponseCode = 0
	APIResponseCodeBadRequest APIResponseCode = 40000
	APIResponseCodeNotFound   APIResponseCode = 40400
	APIResponseCodeConflict   APIResponseCode = 40900
	APIResponseCodeError      APIResponseCode = 50000
)

var codeToMsg = map[APIResponseCode]string{
	APIResponseCodeOK:         "ok",
	APIResponseCodeBadRequest: "bad request",
	APIResponseCodeNotFound:   "not found",
	APIResponseCodeConflict:   "conflict",
	APIResponseCodeError:      "unexpected error",
}

func (c APIResponseCode) Message() string {
	if msg, ok := codeToMsg[c]; ok {
		return msg
	}
	return codeToMsg[APIResponseCodeError]
}

type APIResponse[T any] struct {
	Code    APIResponseCode `json:"code"`
	Message string          `json:"message"`
	Data    T               `json:"data"`
}

func OKT[T any](data T) *APIResponse[T] {
	return &APIResponse[T]{Code: APIResponseCodeOK, Message: APIResponseCodeOK.Message(), Data: data}
}

// ErrorT carries detail (usually the error text) as data.
func ErrorT[T any](code APIResponseCode, detail T) *APIResponse[T] {
	return &APIResponse[T]{Code: code, Message: code.Message(), Data: detail}
}

// OK writes a successful envelope.
func OK[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, OKT(data))
}

// Fail writes an error envelope with detail as data.
func Fail(c *gin.Context, code APIResponseCode, detail string) {
	c.JSON(http.StatusOK, ErrorT(code, detail))
}
