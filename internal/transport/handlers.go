package transport

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"eco-challenge-rewards-go/internal/api"
	"eco-challenge-rewards-go/internal/imagestore"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/verification"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *handler) health(c *gin.Context) {
	if err := h.ledger.HealthCheck(c.Request.Context()); err != nil {
		zap.L().Error("Health check failed", zap.Error(err))
		fail(c, http.StatusServiceUnavailable, codeInternal, "unhealthy")
		return
	}
	success(c, gin.H{"status": "ok"})
}

func (h *handler) listChallenges(c *gin.Context) {
	views, err := h.verification.ListActiveChallenges(c.Request.Context(), userId(c))
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, views)
}

func (h *handler) getChallenge(c *gin.Context) {
	view, err := h.verification.GetChallengeDetail(c.Request.Context(), userId(c), c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, view)
}

type participateBody struct {
	ImageRef  string `json:"image_ref" form:"image_ref"`
	StepCount *int64 `json:"step_count" form:"step_count"`
	TeamId    string `json:"team_id" form:"team_id"`
}

// participate accepts either a multipart upload with an "image" part or a
// JSON body referencing an image by URL.
func (h *handler) participate(c *gin.Context) {
	req := verification.ParticipateRequest{
		UserId:      userId(c),
		ChallengeId: c.Param("id"),
	}

	var body participateBody
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&body); err != nil {
			fail(c, http.StatusBadRequest, codeInvalidRequest, "invalid form: "+err.Error())
			return
		}
		image, err := h.readUpload(c)
		if err != nil {
			failWith(c, err)
			return
		}
		req.Image = image
	} else if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, http.StatusBadRequest, codeInvalidRequest, "invalid body: "+err.Error())
			return
		}
	}
	req.ImageRef = body.ImageRef
	req.StepCount = body.StepCount
	req.TeamId = body.TeamId

	result, err := h.verification.Participate(c.Request.Context(), req)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, result)
}

func (h *handler) readUpload(c *gin.Context) (*verification.UploadedImage, error) {
	header, err := c.FormFile("image")
	if err == http.ErrMissingFile {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", verification.ErrInvalidRequest, err)
	}
	if header.Size > h.maxImageBytes {
		return nil, fmt.Errorf("%w: image is %d bytes, limit %d", imagestore.ErrTooLarge, header.Size, h.maxImageBytes)
	}

	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("unable to open upload: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			zap.L().Warn("Unable to close upload", zap.Error(err))
		}
	}()

	data, err := io.ReadAll(io.LimitReader(file, h.maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("unable to read upload: %w", err)
	}
	return &verification.UploadedImage{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
	}, nil
}

func (h *handler) verify(c *gin.Context) {
	result, err := h.verification.StartVerification(c.Request.Context(), userId(c), c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, result)
}

func (h *handler) listRecords(c *gin.Context) {
	limit, offset := page(c)
	records, err := h.verification.ListHistory(c.Request.Context(), userId(c), limit, offset)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, records)
}

func (h *handler) balance(c *gin.Context) {
	balance, err := h.ledger.GetBalance(c.Request.Context(), userId(c))
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, balance)
}

func (h *handler) transactions(c *gin.Context) {
	limit, offset := page(c)
	history, err := h.ledger.GetTransactionHistory(c.Request.Context(), userId(c), limit, offset)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, history)
}

func (h *handler) stats(c *gin.Context) {
	stats, err := h.ledger.GetStats(c.Request.Context(), userId(c))
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, stats)
}

type convertBody struct {
	Amount int64 `json:"amount"`
}

func (h *handler) convert(c *gin.Context) {
	var body convertBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, codeInvalidRequest, "invalid body: "+err.Error())
		return
	}
	result, err := h.ledger.Convert(c.Request.Context(), userId(c), body.Amount)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, result)
}

func (h *handler) imageStats(c *gin.Context) {
	stats, err := h.verification.ImageHashStats(c.Request.Context(), userId(c))
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, stats)
}

func (h *handler) team(c *gin.Context) {
	overview, err := h.verification.GetTeamOverview(c.Request.Context(), userId(c), c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, overview)
}

func (h *handler) teamRecords(c *gin.Context) {
	records, err := h.verification.ListTeamParticipations(c.Request.Context(), userId(c), c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, records)
}

func (h *handler) needsReview(c *gin.Context) {
	limit, offset := page(c)
	records, err := h.verification.ListNeedsReview(c.Request.Context(), limit, offset)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, records)
}

func (h *handler) adminApprove(c *gin.Context) {
	result, err := h.verification.AdminApprove(c.Request.Context(), c.Param("id"), userId(c))
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, result)
}

type rejectBody struct {
	Reason string `json:"reason"`
}

func (h *handler) adminReject(c *gin.Context) {
	var body rejectBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, http.StatusBadRequest, codeInvalidRequest, "invalid body: "+err.Error())
			return
		}
	}
	result, err := h.verification.AdminReject(c.Request.Context(), c.Param("id"), userId(c), body.Reason)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, result)
}

func (h *handler) allBalances(c *gin.Context) {
	balances, err := h.ledger.ListBalances(c.Request.Context())
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, balances)
}

type earnBody struct {
	UserId      string `json:"user_id" binding:"required"`
	Category    string `json:"category" binding:"required"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Reference   string `json:"reference" binding:"required"`
}

func (h *handler) partnerEarn(c *gin.Context) {
	var body earnBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, codeInvalidRequest, "invalid body: "+err.Error())
		return
	}
	category, err := models.ParsePointCategory(strings.ToUpper(body.Category))
	if err != nil {
		fail(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	record, err := h.ledger.CreditFromPartner(c.Request.Context(), api.CreditRequest{
		UserId:      body.UserId,
		Category:    category,
		Amount:      body.Amount,
		Description: body.Description,
		Reference:   body.Reference,
	})
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, record)
}

func userId(c *gin.Context) string {
	return c.GetString(contextUserIdKey)
}

func page(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.Query("limit"))
	offset, _ = strconv.Atoi(c.Query("offset"))
	return limit, offset
}
