package license

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"medilicense/pkg/db/pagination"
	"medilicense/pkg/errutil"
	"medilicense/services/keygen"

	"github.com/gin-gonic/gin"
)

const (
	HeaderUserID       = "X-User-ID"
	HeaderUserName     = "X-User-Name"
	HeaderValidAccess  = "X-User-Valid-Access"
	HeaderTrialExpired = "X-User-Trial-Expired"
)

// RequesterFromRequest builds the requester from identity headers set by the
// upstream authentication layer. It returns nil without X-User-ID.
func RequesterFromRequest(r *http.Request) *User {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return nil
	}
	validAccess, _ := strconv.ParseBool(r.Header.Get(HeaderValidAccess))
	trialExpired, _ := strconv.ParseBool(r.Header.Get(HeaderTrialExpired))
	return &User{
		ID:           id,
		Name:         strings.TrimSpace(r.Header.Get(HeaderUserName)),
		ValidAccess:  validAccess,
		TrialExpired: trialExpired,
	}
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the license API. limit guards the key-guessing endpoints
// and gate guards the application facing ones; either may be nil.
func (h *Handler) Routes(r gin.IRouter, limit, gate gin.HandlerFunc) {
	limited := []gin.HandlerFunc{}
	if limit != nil {
		limited = append(limited, limit)
	}
	gated := []gin.HandlerFunc{}
	if gate != nil {
		gated = append(gated, gate)
	}

	licenses := r.Group("/v1/licenses")
	licenses.POST("", h.create)
	licenses.GET("", h.list)
	licenses.GET("/:key", h.info)
	licenses.PATCH("/:key", h.update)
	licenses.POST("/:key/suspend", h.suspend)
	licenses.POST("/:key/reactivate", h.reactivate)
	licenses.POST("/:key/revoke", h.revoke)
	licenses.POST("/:key/renew", h.renew)
	licenses.POST("/:key/validate", append(limited, h.validateKey)...)
	licenses.POST("/:key/activate", append(limited, h.activate)...)
	licenses.POST("/:key/assign", append(limited, h.assign)...)

	current := r.Group("/v1/license")
	current.GET("/status", h.status)
	current.GET("/restriction", h.restriction)
	current.GET("/statistics", h.statistics)
	current.GET("/features/:name", append(gated, h.feature)...)
	current.GET("/usage/:type", append(gated, h.usage)...)
	current.POST("/usage/:type/increment", append(gated, h.increment)...)
	current.POST("/usage/:type/decrement", append(gated, h.decrement)...)
	current.POST("/usage/reset", h.resetUsage)

	keys := r.Group("/v1/keys")
	keys.POST("/generate", h.generateKeys)
	keys.GET("/:key/parse", h.parseKey)
}

// Restriction adapts ShouldRestrictApplication for middleware.LicenseGate.
func (h *Handler) Restriction(c *gin.Context) (bool, string, error) {
	requester := RequesterFromRequest(c.Request)
	restricted, err := h.svc.ShouldRestrictApplication(c.Request.Context(), requester)
	if err != nil || !restricted {
		return false, "", err
	}
	msg, err := h.svc.GetRestrictionMessage(c.Request.Context(), requester)
	return true, msg, err
}

// redacted hides the activation code outside of the create response.
func redacted(l *License) *License {
	if l == nil {
		return nil
	}
	out := *l
	out.ActivationCode = ""
	return &out
}

func writeResult(c *gin.Context, res *Result, okStatus int) {
	if !res.Success {
		c.JSON(res.Code.HTTPStatus(), res)
		return
	}
	c.JSON(okStatus, res)
}

func internal(c *gin.Context, msg string, err error) {
	_ = c.Error(errutil.Internal(msg, err))
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err, errutil.WithDetails(errutil.Detail{
			Field: "body", Message: err.Error(),
		})))
		return false
	}
	return true
}

func (h *Handler) create(c *gin.Context) {
	var in CreateInput
	if !bindJSON(c, &in) {
		return
	}

	res, err := h.svc.CreateLicense(c.Request.Context(), in)
	switch {
	case errors.Is(err, keygen.ErrInvalidStrategy), errors.Is(err, keygen.ErrMalformedTemplate):
		_ = c.Error(errutil.ValidationFailed(err.Error(), err))
		return
	case errors.Is(err, keygen.ErrGenerationExhausted):
		_ = c.Error(errutil.Conflict("could not generate a unique license key", err))
		return
	case err != nil:
		internal(c, "failed to create license", err)
		return
	}
	writeResult(c, res, http.StatusCreated)
}

func (h *Handler) list(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	filter := ListParams{Type: Type(c.Query("type")), Status: Status(c.Query("status"))}
	licenses, info, err := h.svc.ListLicenses(c.Request.Context(), filter, page)
	if err != nil {
		internal(c, "failed to list licenses", err)
		return
	}

	data := make([]*License, 0, len(licenses))
	for i := range licenses {
		data = append(data, redacted(&licenses[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": data, "page_info": info})
}

func (h *Handler) info(c *gin.Context) {
	info, res, err := h.svc.GetLicenseInfo(c.Request.Context(), c.Param("key"))
	if err != nil {
		internal(c, "failed to load license", err)
		return
	}
	if info == nil {
		writeResult(c, res, http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) update(c *gin.Context) {
	var in UpdateInput
	if !bindJSON(c, &in) {
		return
	}
	h.admin(c, func() (*Result, error) {
		return h.svc.UpdateLicense(c.Request.Context(), c.Param("key"), in)
	})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) reason(c *gin.Context) (string, bool) {
	var req reasonRequest
	if c.Request.ContentLength == 0 {
		return "", true
	}
	if !bindJSON(c, &req) {
		return "", false
	}
	return req.Reason, true
}

func (h *Handler) suspend(c *gin.Context) {
	reason, ok := h.reason(c)
	if !ok {
		return
	}
	h.admin(c, func() (*Result, error) {
		return h.svc.SuspendLicense(c.Request.Context(), c.Param("key"), reason)
	})
}

func (h *Handler) reactivate(c *gin.Context) {
	reason, ok := h.reason(c)
	if !ok {
		return
	}
	h.admin(c, func() (*Result, error) {
		return h.svc.ReactivateLicense(c.Request.Context(), c.Param("key"), reason)
	})
}

func (h *Handler) revoke(c *gin.Context) {
	reason, ok := h.reason(c)
	if !ok {
		return
	}
	h.admin(c, func() (*Result, error) {
		return h.svc.RevokeLicense(c.Request.Context(), c.Param("key"), reason)
	})
}

type renewRequest struct {
	Months int `json:"months"`
}

func (h *Handler) renew(c *gin.Context) {
	var req renewRequest
	if !bindJSON(c, &req) {
		return
	}
	h.admin(c, func() (*Result, error) {
		return h.svc.RenewLicense(c.Request.Context(), c.Param("key"), req.Months)
	})
}

func (h *Handler) admin(c *gin.Context, op func() (*Result, error)) {
	res, err := op()
	if err != nil {
		internal(c, "license operation failed", err)
		return
	}
	res.License = redacted(res.License)
	writeResult(c, res, http.StatusOK)
}

func (h *Handler) validateKey(c *gin.Context) {
	res, err := h.svc.ValidateLicense(c.Request.Context(), c.Param("key"), RequesterFromRequest(c.Request))
	if err != nil {
		internal(c, "failed to validate license", err)
		return
	}
	res.License = redacted(res.License)
	status := http.StatusOK
	if !res.Valid {
		status = res.Code.HTTPStatus()
	}
	c.JSON(status, res)
}

type activateRequest struct {
	ActivationCode string `json:"activation_code"`
	Domain         string `json:"domain"`
}

func (h *Handler) activate(c *gin.Context) {
	var req activateRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.svc.ActivateLicense(c.Request.Context(), ActivationRequest{
		Key:            c.Param("key"),
		ActivationCode: req.ActivationCode,
		Domain:         req.Domain,
		IP:             c.ClientIP(),
	})
	if err != nil {
		internal(c, "failed to activate license", err)
		return
	}
	res.License = redacted(res.License)
	status := http.StatusOK
	if !res.Success {
		status = res.Code.HTTPStatus()
	}
	c.JSON(status, res)
}

func (h *Handler) assign(c *gin.Context) {
	user := RequesterFromRequest(c.Request)
	if user == nil {
		_ = c.Error(errutil.New(errutil.StatusUnauthorized, "missing "+HeaderUserID+" header"))
		return
	}

	res, err := h.svc.ActivateLicenseForUser(c.Request.Context(), user, c.Param("key"))
	if err != nil {
		internal(c, "failed to assign license", err)
		return
	}
	res.License = redacted(res.License)
	status := http.StatusOK
	if !res.Valid {
		status = res.Code.HTTPStatus()
	}
	c.JSON(status, gin.H{"result": res, "user": user})
}

func (h *Handler) status(c *gin.Context) {
	view, err := h.svc.GetLicenseStatus(c.Request.Context())
	if err != nil {
		internal(c, "failed to load license status", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) restriction(c *gin.Context) {
	restricted, msg, err := h.Restriction(c)
	if err != nil {
		internal(c, "failed to evaluate restriction", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restricted": restricted, "message": msg})
}

func (h *Handler) statistics(c *gin.Context) {
	days := 0
	if v := c.Query("within_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			_ = c.Error(errutil.BadRequest("within_days must be a non-negative integer", err))
			return
		}
		days = n
	}

	stats, err := h.svc.GetLicenseStatistics(c.Request.Context(), days)
	if err != nil {
		internal(c, "failed to load statistics", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) feature(c *gin.Context) {
	name := c.Param("name")
	enabled, err := h.svc.HasFeature(c.Request.Context(), name)
	if err != nil {
		internal(c, "failed to check feature", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feature": name, "enabled": enabled})
}

func writeUsage(c *gin.Context, res *UsageResult) {
	status := http.StatusOK
	if !res.Success && res.Code != CodeOK {
		status = res.Code.HTTPStatus()
	}
	c.JSON(status, res)
}

func (h *Handler) usage(c *gin.Context) {
	res, err := h.svc.CheckUsageLimit(c.Request.Context(), ResourceType(c.Param("type")))
	if err != nil {
		internal(c, "failed to check usage", err)
		return
	}
	// reaching a limit is information here, not a failed request
	if res.Code == CodeUsageLimitExceeded {
		c.JSON(http.StatusOK, res)
		return
	}
	writeUsage(c, res)
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

func (h *Handler) amount(c *gin.Context) (int64, bool) {
	req := amountRequest{Amount: 1}
	if c.Request.ContentLength == 0 {
		return 1, true
	}
	if !bindJSON(c, &req) {
		return 0, false
	}
	return req.Amount, true
}

func (h *Handler) increment(c *gin.Context) {
	n, ok := h.amount(c)
	if !ok {
		return
	}
	res, err := h.svc.IncrementUsage(c.Request.Context(), ResourceType(c.Param("type")), n)
	if err != nil {
		internal(c, "failed to increment usage", err)
		return
	}
	writeUsage(c, res)
}

func (h *Handler) decrement(c *gin.Context) {
	n, ok := h.amount(c)
	if !ok {
		return
	}
	res, err := h.svc.DecrementUsage(c.Request.Context(), ResourceType(c.Param("type")), n)
	if err != nil {
		internal(c, "failed to decrement usage", err)
		return
	}
	writeUsage(c, res)
}

func (h *Handler) resetUsage(c *gin.Context) {
	n, err := h.svc.ResetMonthlyUsage(c.Request.Context())
	if err != nil {
		internal(c, "failed to reset usage", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": n})
}

type generateRequest struct {
	Count    int    `json:"count"`
	Strategy string `json:"strategy"`
}

func (h *Handler) generateKeys(c *gin.Context) {
	req := generateRequest{Count: 1}
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	keys, err := h.svc.GenerateKeys(c.Request.Context(), req.Count, req.Strategy)
	switch {
	case errors.Is(err, keygen.ErrGenerationExhausted):
		_ = c.Error(errutil.Conflict("could not generate unique keys", err))
		return
	case err != nil:
		_ = c.Error(errutil.ValidationFailed(err.Error(), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (h *Handler) parseKey(c *gin.Context) {
	parsed := keygen.ParseLicenseKey(c.Param("key"))
	c.JSON(http.StatusOK, parsed)
}
