package criteria

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"stuntman/internal/config/writer"
	"stuntman/internal/logger"
	"stuntman/internal/validation"
)

// Router 验证阈值预设的 API。
type Router struct {
	writer *writer.CriteriaWriter
}

func NewRouter(w *writer.CriteriaWriter) *Router {
	return &Router{writer: w}
}

// Register 注册预设路由；写操作由上层中间件做鉴权。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil || r == nil || r.writer == nil {
		return
	}
	group.GET("", r.handleList)
	group.GET("/:name", r.handleGet)
	group.PUT("/:name", r.handleUpdate)
	group.DELETE("/:name", r.handleDelete)
}

// PresetResponse 单个预设。
type PresetResponse struct {
	validation.Criteria
	Builtin bool `json:"builtin"`
}

func (r *Router) handleList(c *gin.Context) {
	presets, err := r.writer.Presets()
	if err != nil {
		logger.Errorf("[criteria-api] read failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	builtin := validation.BuiltinPresets()
	out := make([]PresetResponse, 0, len(presets))
	for name, p := range presets {
		_, isBuiltin := builtin[name]
		out = append(out, PresetResponse{Criteria: p, Builtin: isBuiltin})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	c.JSON(http.StatusOK, gin.H{"presets": out, "path": r.writer.Path()})
}

func (r *Router) handleGet(c *gin.Context) {
	presets, err := r.writer.Presets()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	p, err := presets.Lookup(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	_, isBuiltin := validation.BuiltinPresets()[p.Name]
	c.JSON(http.StatusOK, PresetResponse{Criteria: p, Builtin: isBuiltin})
}

func (r *Router) handleUpdate(c *gin.Context) {
	name := strings.ToLower(strings.TrimSpace(c.Param("name")))
	if !validName(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "preset 名称只能包含字母、数字和下划线"})
		return
	}
	var req validation.Criteria
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	if req.MinTrades < 0 || req.MinWinRate < 0 || req.MinWinRate > 1 || req.MinConsistency < 0 || req.MinConsistency > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "阈值超出范围"})
		return
	}
	if err := r.writer.UpdatePreset(name, req); err != nil {
		logger.Errorf("[criteria-api] update failed: %v", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[criteria-api] preset '%s' saved by %s", name, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"success": true, "name": name})
}

func (r *Router) handleDelete(c *gin.Context) {
	name := c.Param("name")
	if err := r.writer.DeletePreset(name); err != nil {
		logger.Errorf("[criteria-api] delete failed: %v", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[criteria-api] preset '%s' deleted by %s", name, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, writer.ErrPresetNotFound):
		return http.StatusNotFound
	case errors.Is(err, writer.ErrBuiltinPreset):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, ch := range name {
		if !((ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '_') {
			return false
		}
	}
	return true
}
