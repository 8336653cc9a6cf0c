package transport

import (
	"errors"
	"net/http"

	"eco-challenge-rewards-go/internal/api"
	"eco-challenge-rewards-go/internal/imagestore"
	"eco-challenge-rewards-go/internal/verification"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope of every API response.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Stable error codes. The first three digits are the HTTP status.
const (
	codeOK                   = 0
	codeInvalidRequest       = 40001
	codeImageRejected        = 40002
	codeMissingToken         = 40101
	codeInvalidToken         = 40102
	codeBadServiceToken      = 40103
	codeNotOwner             = 40301
	codeNotTeamLeader        = 40302
	codeNotTeamMember        = 40303
	codeForbiddenRole        = 40304
	codeChallengeNotFound    = 40401
	codeRecordNotFound       = 40402
	codeTeamNotFound         = 40403
	codeRouteNotFound        = 40404
	codeInvalidState         = 40901
	codeAlreadyParticipated  = 40902
	codeDuplicateTransaction = 40903
	codeConversionInProgress = 40904
	codeImageTooLarge        = 41301
	codeChallengeNotActive   = 42201
	codeChallengeNotStarted  = 42202
	codeInsufficientBalance  = 42203
	codeInvalidAmount        = 42204
	codeRateLimited          = 42901
	codeInternal             = 50001
	codeConversionUnrecorded = 50002
	codeIssuanceFailed       = 50201
)

type errorMapping struct {
	target  error
	status  int
	code    int
	message string
}

// errorMappings is checked in order; the first errors.Is match wins.
var errorMappings = []errorMapping{
	{verification.ErrChallengeNotFound, http.StatusNotFound, codeChallengeNotFound, ""},
	{verification.ErrRecordNotFound, http.StatusNotFound, codeRecordNotFound, ""},
	{verification.ErrTeamNotFound, http.StatusNotFound, codeTeamNotFound, ""},
	{verification.ErrInvalidState, http.StatusConflict, codeInvalidState, ""},
	{verification.ErrAlreadyParticipatedToday, http.StatusConflict, codeAlreadyParticipated, ""},
	{api.ErrDuplicateTransaction, http.StatusConflict, codeDuplicateTransaction, "duplicate transaction reference"},
	{api.ErrConversionInProgress, http.StatusConflict, codeConversionInProgress, ""},
	{verification.ErrNotOwner, http.StatusForbidden, codeNotOwner, ""},
	{verification.ErrNotTeamLeader, http.StatusForbidden, codeNotTeamLeader, ""},
	{verification.ErrNotTeamMember, http.StatusForbidden, codeNotTeamMember, ""},
	{verification.ErrChallengeNotActive, http.StatusUnprocessableEntity, codeChallengeNotActive, ""},
	{verification.ErrChallengeNotStarted, http.StatusUnprocessableEntity, codeChallengeNotStarted, ""},
	{api.ErrInsufficientBalance, http.StatusUnprocessableEntity, codeInsufficientBalance, "insufficient balance"},
	{api.ErrInvalidAmount, http.StatusUnprocessableEntity, codeInvalidAmount, ""},
	{verification.ErrInvalidRequest, http.StatusBadRequest, codeInvalidRequest, ""},
	{api.ErrInvalidRequest, http.StatusBadRequest, codeInvalidRequest, ""},
	{imagestore.ErrTooLarge, http.StatusRequestEntityTooLarge, codeImageTooLarge, ""},
	{imagestore.ErrEmpty, http.StatusBadRequest, codeImageRejected, ""},
	{api.ErrIssuanceFailed, http.StatusBadGateway, codeIssuanceFailed, "external issuance failed"},
	{api.ErrConversionUnrecorded, http.StatusInternalServerError, codeConversionUnrecorded, "conversion issued but not recorded"},
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: codeOK, Message: "success", Data: data})
}

func fail(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Response{Code: code, Message: message})
}

// failWith maps a domain error onto its status and code. Unknown errors are
// logged and reported as internal.
func failWith(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			message := m.message
			if message == "" {
				message = err.Error()
			}
			fail(c, m.status, m.code, message)
			return
		}
	}

	zap.L().Error("Request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	fail(c, http.StatusInternalServerError, codeInternal, "internal error")
}
