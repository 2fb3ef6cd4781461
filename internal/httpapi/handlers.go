package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/ledger"
)

func (a *API) handleCreateDocument(c *gin.Context) {
	var in domain.DocumentInput
	if err := decodeJSON(c, &in); err != nil {
		a.writeError(c, err)
		return
	}
	doc, err := a.service.CreateDocument(c.Request.Context(), in)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeData(c, http.StatusCreated, doc)
}

func (a *API) handleListDocuments(c *gin.Context) {
	filter := domain.DocumentFilter{
		SupplierID:   strings.TrimSpace(c.Query("supplierId")),
		DepartmentID: strings.TrimSpace(c.Query("departmentId")),
		Type:         domain.DocumentType(strings.TrimSpace(c.Query("type"))),
		Status:       domain.DocumentStatus(strings.TrimSpace(c.Query("status"))),
		Limit:        parsePositiveLimit(c.Query("limit"), 50, 200),
	}
	var err error
	if filter.From, err = parseDay(c, "from"); err != nil {
		a.writeError(c, err)
		return
	}
	if filter.To, err = parseDay(c, "to"); err != nil {
		a.writeError(c, err)
		return
	}

	docs, err := a.service.ListDocuments(c.Request.Context(), filter)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, docs)
}

func parseDay(c *gin.Context, field string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(field))
	if raw == "" {
		return nil, nil
	}
	day, err := ledger.ParseDate(raw)
	if err != nil {
		return nil, domain.Validation(0, field, "date must be YYYY-MM-DD")
	}
	return &day, nil
}

func (a *API) handleGetDocument(c *gin.Context) {
	doc, err := a.service.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, doc)
}

func (a *API) handleUpdateDocument(c *gin.Context) {
	var in domain.DocumentInput
	if err := decodeJSON(c, &in); err != nil {
		a.writeError(c, err)
		return
	}
	doc, err := a.service.UpdateDocument(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, doc)
}

func (a *API) handleDeleteDocument(c *gin.Context) {
	if err := a.service.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"id": c.Param("id")})
}

type priceUpdateRequest struct {
	Items []domain.PriceUpdate `json:"items"`
}

func (a *API) handleUpdatePrices(c *gin.Context) {
	var req priceUpdateRequest
	if err := decodeJSON(c, &req); err != nil {
		a.writeError(c, err)
		return
	}
	doc, err := a.service.UpdatePrices(c.Request.Context(), c.Param("id"), req.Items)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, doc)
}

type statusRequest struct {
	Status domain.DocumentStatus `json:"status"`
}

func (a *API) handleSetStatus(c *gin.Context) {
	var req statusRequest
	if err := decodeJSON(c, &req); err != nil {
		a.writeError(c, err)
		return
	}
	doc, err := a.service.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, doc)
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (a *API) handleRecordPayment(c *gin.Context) {
	var req paymentRequest
	if err := decodeJSON(c, &req); err != nil {
		a.writeError(c, err)
		return
	}
	doc, err := a.service.RecordPayment(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, doc)
}

type lockRequest struct {
	Locked   bool   `json:"locked"`
	AdminPIN string `json:"adminPin"`
}

func (a *API) handleSetAdminLock(c *gin.Context) {
	var req lockRequest
	if err := decodeJSON(c, &req); err != nil {
		a.writeError(c, err)
		return
	}
	if !a.pinLimiter.Allow("pin:" + clientKey(c.Request)) {
		abortStatus(c, http.StatusTooManyRequests, errors.New("too many PIN attempts, try again later"))
		return
	}
	if !a.auth.ValidateAdminPIN(req.AdminPIN) {
		a.writeError(c, domain.Forbidden("invalid admin PIN"))
		return
	}
	doc, err := a.service.SetAdminLock(c.Request.Context(), c.Param("id"), req.Locked)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, doc)
}

func (a *API) handleAuditLogs(c *gin.Context) {
	logs, err := a.service.ListAuditLogs(c.Request.Context(), c.Param("id"), parsePositiveLimit(c.Query("limit"), 100, 500))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, logs)
}

func (a *API) handleListLots(c *gin.Context) {
	lots, err := a.service.ListOpenLots(c.Request.Context(), domain.LotFilter{
		ProductID:    strings.TrimSpace(c.Query("productId")),
		DepartmentID: strings.TrimSpace(c.Query("departmentId")),
		Limit:        parsePositiveLimit(c.Query("limit"), 100, 500),
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, lots)
}

func (a *API) handlePreviewOut(c *gin.Context) {
	qty, err := decimal.NewFromString(strings.TrimSpace(c.Query("qty")))
	if err != nil {
		a.writeError(c, domain.Validation(0, "qty", "qty must be a number"))
		return
	}
	plan, err := a.service.PreviewOut(c.Request.Context(), strings.TrimSpace(c.Query("productId")), strings.TrimSpace(c.Query("departmentId")), qty)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeData(c, http.StatusOK, plan)
}
