// Package handler exposes the transaction gateway over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/herbledger/internal/gateway"
	"github.com/jmerrifield20/herbledger/internal/labels"
	"go.uber.org/zap"
)

// Gateway is the subset of *gateway.Gateway the handlers use.
type Gateway interface {
	Submit(ctx context.Context, req gateway.Request) (any, error)
	Evaluate(ctx context.Context, req gateway.Request) (any, error)
	PackageProduct(ctx context.Context, req *gateway.PackageRequest, origin gateway.Origin) (*gateway.PackageResult, error)
	Labels() labels.Store
}

// LedgerHandler serves the supply-chain endpoints.
type LedgerHandler struct {
	gw                  Gateway
	trustForwardedProto bool
	logger              *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(gw Gateway, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{gw: gw, logger: logger}
}

// SetTrustForwardedProto makes scan URLs use the X-Forwarded-Proto header
// when present. Enable only behind a proxy that sets it.
func (h *LedgerHandler) SetTrustForwardedProto(trust bool) {
	h.trustForwardedProto = trust
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/collection", h.submit(func() gateway.Request { return &gateway.CollectionRequest{} }))
	rg.POST("/process", h.submit(func() gateway.Request { return &gateway.ProcessRequest{} }))
	rg.POST("/quality", h.submit(func() gateway.Request { return &gateway.QualityRequest{} }))
	rg.POST("/package", h.Package)
	rg.GET("/provenance/:id", h.Provenance)
	rg.GET("/scan/:packageId", h.Scan)
	rg.GET("/labels/:packageId", h.Label)
}

func (h *LedgerHandler) submit(newReq func() gateway.Request) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := newReq()
		if err := c.ShouldBindJSON(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		result, err := h.gw.Submit(c.Request.Context(), req)
		if err != nil {
			h.fail(c, req.Function(), err)
			return
		}
		if result == nil {
			c.JSON(http.StatusOK, gin.H{"result": nil})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// Package handles POST /package.
func (h *LedgerHandler) Package(c *gin.Context) {
	var req gateway.PackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	res, err := h.gw.PackageProduct(c.Request.Context(), &req, h.origin(c))
	if err != nil {
		h.fail(c, req.Function(), err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Provenance handles GET /provenance/:id.
func (h *LedgerHandler) Provenance(c *gin.Context) {
	req := &gateway.ProvenanceRequest{ID: gateway.String(c.Param("id"))}
	result, err := h.gw.Evaluate(c.Request.Context(), req)
	if err != nil {
		h.fail(c, req.Function(), err)
		return
	}
	c.JSON(http.StatusOK, result)
}

var scanPage = template.Must(template.New("scan").Parse(
	`<h2>Provenance for {{.ID}}</h2><pre>{{.JSON}}</pre>`,
))

// Scan handles GET /scan/:packageId with a human-readable provenance page.
func (h *LedgerHandler) Scan(c *gin.Context) {
	id := c.Param("packageId")
	result, err := h.gw.Evaluate(c.Request.Context(), &gateway.ProvenanceRequest{ID: gateway.String(id)})
	if err != nil {
		h.logger.Error("scan provenance", zap.String("package_id", id), zap.Error(err))
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	if list, ok := result.([]any); !ok || len(list) == 0 {
		c.String(http.StatusNotFound, "Not found")
		return
	}

	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := scanPage.Execute(c.Writer, struct{ ID, JSON string }{id, string(pretty)}); err != nil {
		h.logger.Error("render scan page", zap.Error(err))
	}
}

// Label handles GET /labels/:packageId, serving the stored QR PNG.
func (h *LedgerHandler) Label(c *gin.Context) {
	store := h.gw.Labels()
	if store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "labels are not enabled"})
		return
	}
	id := c.Param("packageId")
	png, err := store.Get(c.Request.Context(), id)
	if errors.Is(err, labels.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "label not found"})
		return
	}
	if err != nil {
		h.logger.Error("get label", zap.String("package_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load label"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *LedgerHandler) origin(c *gin.Context) gateway.Origin {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if h.trustForwardedProto {
		if p := c.GetHeader("X-Forwarded-Proto"); p == "http" || p == "https" {
			scheme = p
		}
	}
	return gateway.Origin{Scheme: scheme, Host: c.Request.Host}
}

func (h *LedgerHandler) fail(c *gin.Context, fn string, err error) {
	var ve *gateway.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
		return
	}
	h.logger.Error("gateway call failed", zap.String("function", fn), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
