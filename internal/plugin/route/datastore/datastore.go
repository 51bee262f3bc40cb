package datastore

import (
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/agent-datastore/internal/datastore"
	"github.com/chirino/agent-datastore/internal/registry/docdb"
	"github.com/chirino/agent-datastore/internal/security"
	"github.com/gin-gonic/gin"
)

// MountRoutes mounts the agent data store REST endpoints on the given router.
// Every route operates on the proxy bound to the caller resolved by auth.
func MountRoutes(r *gin.Engine, svc *datastore.Service, auth gin.HandlerFunc) {
	g := r.Group("/v1/datastore", auth)

	g.GET("/namespaces", func(c *gin.Context) { listNamespaces(c, svc) })
	g.GET("/ns/:namespace/keys", func(c *gin.Context) { listKeys(c, svc) })
	g.GET("/ns/:namespace/values/*key", func(c *gin.Context) { getValue(c, svc) })
	g.PUT("/ns/:namespace/values/*key", func(c *gin.Context) { putValue(c, svc) })
	g.DELETE("/ns/:namespace/values/*key", func(c *gin.Context) { deleteValue(c, svc) })
	g.POST("/ns/:namespace/get-many", func(c *gin.Context) { getMany(c, svc) })
	g.POST("/ns/:namespace/set-many", func(c *gin.Context) { setMany(c, svc) })
	g.DELETE("/ns/:namespace", func(c *gin.Context) { clearNamespace(c, svc) })
}

func proxyFor(c *gin.Context, svc *datastore.Service) *datastore.Proxy {
	p := datastore.NewProxy(svc, security.GetUserID(c), security.GetAgentName(c))
	if ns := c.Param("namespace"); ns != "" {
		return p.UseNamespace(ns)
	}
	return p
}

// keyParam returns the catch-all key without its leading slash, so keys may
// themselves contain slashes.
func keyParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

func listNamespaces(c *gin.Context, svc *datastore.Service) {
	namespaces, err := proxyFor(c, svc).ListNamespaces(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"namespaces": namespaces})
}

func listKeys(c *gin.Context, svc *datastore.Service) {
	p := proxyFor(c, svc)
	keys, err := p.ListKeys(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"namespace": p.Namespace(), "keys": keys})
}

func getValue(c *gin.Context, svc *datastore.Service) {
	p := proxyFor(c, svc)
	rec, err := svc.Get(c.Request.Context(), p.UserID(), p.Namespace(), keyParam(c), p.AgentName())
	if err != nil {
		handleError(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func putValue(c *gin.Context, svc *datastore.Service) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	value, ok := body["value"]
	if !ok {
		handleError(c, &docdb.ValidationError{Field: "value", Message: "value is required"})
		return
	}
	metadata, err := metadataField(body)
	if err != nil {
		handleError(c, err)
		return
	}

	p := proxyFor(c, svc)
	rec, err := svc.Set(c.Request.Context(), p.UserID(), p.Namespace(), keyParam(c), value, p.AgentName(), metadata)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func deleteValue(c *gin.Context, svc *datastore.Service) {
	deleted, err := proxyFor(c, svc).Delete(c.Request.Context(), keyParam(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

type getManyRequest struct {
	Keys []string `json:"keys"`
}

func getMany(c *gin.Context, svc *datastore.Service) {
	var req getManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Keys == nil {
		handleError(c, &docdb.ValidationError{Field: "keys", Message: "keys is required"})
		return
	}
	values, err := proxyFor(c, svc).GetMany(c.Request.Context(), req.Keys)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"values": values})
}

type setManyRequest struct {
	Items    map[string]interface{} `json:"items"`
	Metadata map[string]interface{} `json:"metadata"`
}

func setMany(c *gin.Context, svc *datastore.Service) {
	var req setManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Items == nil {
		handleError(c, &docdb.ValidationError{Field: "items", Message: "items is required"})
		return
	}
	count, err := proxyFor(c, svc).SetMany(c.Request.Context(), req.Items, req.Metadata)
	if err != nil {
		log.Error("Partial set-many", "written", count, "requested", len(req.Items), "err", err)
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func clearNamespace(c *gin.Context, svc *datastore.Service) {
	count, err := proxyFor(c, svc).Clear(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func metadataField(body map[string]interface{}) (map[string]interface{}, error) {
	raw, ok := body["metadata"]
	if !ok || raw == nil {
		return nil, nil
	}
	metadata, ok := raw.(map[string]interface{})
	if !ok {
		return nil, &docdb.ValidationError{Field: "metadata", Message: "metadata must be an object"}
	}
	return metadata, nil
}

func handleError(c *gin.Context, err error) {
	var validation *docdb.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	default:
		log.Error("Data store API error", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
