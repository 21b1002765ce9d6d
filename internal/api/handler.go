// Package api は画像圧縮ジョブの HTTP API を提供します。
package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/apperrors"
	"github.com/asif420570/Image-compressor/internal/auth"
	"github.com/asif420570/Image-compressor/internal/export"
	"github.com/asif420570/Image-compressor/internal/jobs"
	"github.com/asif420570/Image-compressor/internal/view"
	"github.com/asif420570/Image-compressor/internal/workspace"
)

// multipart のヘッダー等に見込む余裕
const multipartOverhead = 1 << 20

// Options は API の制限値と非同期エクスポートの設定です。
type Options struct {
	MaxFiles            int
	MaxFileSize         int64
	AsyncThresholdBytes int64
	Exports             *export.Service
	Logger              zerolog.Logger
}

// Handler はワークスペースに対する操作を HTTP で公開します。
type Handler struct {
	opts   Options
	logger zerolog.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(opts Options) *Handler {
	return &Handler{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "api").Logger(),
	}
}

// Register はルーティングを登録します。呼び出し側で認証済みのグループを渡します。
func (h *Handler) Register(group *gin.RouterGroup) {
	group.GET("/jobs", h.withWorkspace(h.listJobs))
	group.POST("/jobs", h.withWorkspace(h.createJobs))
	group.DELETE("/jobs", h.withWorkspace(h.clearJobs))
	group.POST("/jobs/apply", h.withWorkspace(h.applyToAll))
	group.GET("/jobs/:id", h.withWorkspace(h.getJob))
	group.POST("/jobs/:id/rerun", h.withWorkspace(h.rerunJob))
	group.DELETE("/jobs/:id", h.withWorkspace(h.removeJob))
	group.GET("/views/:handle", h.withWorkspace(h.serveView))
	group.POST("/export", h.withWorkspace(h.exportAll))
	group.GET("/exports/:id", h.withWorkspace(h.exportStatus))
	group.GET("/exports/:id/download", h.withWorkspace(h.exportDownload))
}

type workspaceHandler func(c *gin.Context, ws *workspace.Workspace)

func (h *Handler) withWorkspace(next workspaceHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, ok := auth.CurrentWorkspace(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}
		next(c, ws)
	}
}

func (h *Handler) listJobs(c *gin.Context, ws *workspace.Workspace) {
	c.JSON(http.StatusOK, newListResponse(ws.Controller))
}

func (h *Handler) getJob(c *gin.Context, ws *workspace.Workspace) {
	id, err := parseJobID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	job, err := ws.Controller.Job(id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobResponse(job))
}

// createJobs は POST /api/jobs のハンドラーです。画像毎にジョブを作成します。
func (h *Handler) createJobs(c *gin.Context, ws *workspace.Workspace) {
	limit := int64(h.opts.MaxFiles)*h.opts.MaxFileSize + multipartOverhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondWithError(c, apperrors.LimitExceeded("files", "アップロードサイズが上限を超えています。"))
			return
		}
		respondWithError(c, apperrors.Validation("files", "multipart/form-data で画像ファイルを送信してください。"))
		return
	}
	defer form.RemoveAll()

	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		respondWithError(c, apperrors.Validation("files", "アップロードされた画像ファイルが見つかりません。"))
		return
	}
	if len(files) > h.opts.MaxFiles {
		respondWithError(c, apperrors.LimitExceeded("files", fmt.Sprintf("一度に投入できる画像は %d 枚までです。", h.opts.MaxFiles)))
		return
	}

	uploads := make([]jobs.Upload, 0, len(files))
	for _, fh := range files {
		upload, err := h.readUpload(fh)
		if err != nil {
			respondWithError(c, err)
			return
		}
		uploads = append(uploads, upload)
	}

	ids, err := ws.Controller.Submit(c.Request.Context(), uploads)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ids": ids})
}

func (h *Handler) readUpload(fh *multipart.FileHeader) (jobs.Upload, error) {
	if fh.Size > h.opts.MaxFileSize {
		return jobs.Upload{}, apperrors.LimitExceeded("files", fmt.Sprintf("%s のサイズが上限を超えています。", fh.Filename))
	}
	file, err := fh.Open()
	if err != nil {
		return jobs.Upload{}, apperrors.Internal("", "アップロードファイルの読み込みに失敗しました。", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.opts.MaxFileSize+1))
	if err != nil {
		return jobs.Upload{}, apperrors.Internal("", "アップロードファイルの読み込みに失敗しました。", err)
	}
	if int64(len(data)) > h.opts.MaxFileSize {
		return jobs.Upload{}, apperrors.LimitExceeded("files", fmt.Sprintf("%s のサイズが上限を超えています。", fh.Filename))
	}
	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
		return jobs.Upload{}, apperrors.Validation("files", fmt.Sprintf("%s は画像ファイルではありません。", fh.Filename))
	}
	return jobs.Upload{Name: sanitizeName(fh.Filename), Data: data}, nil
}

// rerunJob は POST /api/jobs/:id/rerun のハンドラーです。本文は省略可能です。
func (h *Handler) rerunJob(c *gin.Context, ws *workspace.Workspace) {
	id, err := parseJobID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req jobs.ParamsPatch
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			respondWithError(c, apperrors.Validation("body", "value と unit を JSON で送ってください。"))
			return
		}
	}

	var patch *jobs.ParamsPatch
	if req.Value != nil || req.Unit != nil {
		patch = &req
	}

	if err := ws.Controller.Rerun(c.Request.Context(), id, patch); err != nil {
		respondWithError(c, err)
		return
	}
	job, err := ws.Controller.Job(id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newJobResponse(job))
}

// applyToAll は POST /api/jobs/apply のハンドラーです。
func (h *Handler) applyToAll(c *gin.Context, ws *workspace.Workspace) {
	var params jobs.Parameters
	if err := c.ShouldBindJSON(&params); err != nil {
		respondWithError(c, apperrors.Validation("body", "value と unit を JSON で送ってください。"))
		return
	}
	if !ws.Controller.Summary().CanApplyToAll {
		respondDisabled(c, "処理中のジョブがあるため一括適用できません。")
		return
	}

	ids, err := ws.Controller.ApplyToAll(c.Request.Context(), params)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ids": ids})
}

func (h *Handler) removeJob(c *gin.Context, ws *workspace.Workspace) {
	id, err := parseJobID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if err := ws.Controller.Remove(id); err != nil {
		respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// clearJobs は DELETE /api/jobs のハンドラーです。
func (h *Handler) clearJobs(c *gin.Context, ws *workspace.Workspace) {
	if !ws.Controller.Summary().CanClearAll {
		respondDisabled(c, "処理中のジョブがあるため消去できません。")
		return
	}
	removed := ws.Controller.ClearAll()
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// serveView は GET /api/views/:handle のハンドラーです。自分のワークスペースのハンドルのみ参照できます。
func (h *Handler) serveView(c *gin.Context, ws *workspace.Workspace) {
	data, contentType, ok := ws.Views.Open(view.Handle(c.Param("handle")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "VIEW_NOT_FOUND",
			"message": "画像が見つからないか、既に解放されています。",
		})
		return
	}
	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, contentType, data)
}

// exportAll は POST /api/export のハンドラーです。
// 合計サイズが閾値以下なら zip をそのまま返し、超える場合は非同期で生成して 202 を返します。
func (h *Handler) exportAll(c *gin.Context, ws *workspace.Workspace) {
	if ws.Controller.Summary().AnyRunning {
		respondDisabled(c, "処理中のジョブがあるためエクスポートできません。")
		return
	}

	res, err := ws.Bundler.Reserve()
	if err != nil {
		respondWithError(c, err)
		return
	}

	if h.shouldProcessAsync(res) {
		record, err := h.opts.Exports.Start(c.Request.Context(), ws.ID, res)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"exportId":  record.ExportID,
			"status":    record.Status,
			"statusUrl": "/api/exports/" + record.ExportID,
		})
		return
	}

	archive, err := res.Bundle(c.Request.Context())
	if err != nil {
		respondWithError(c, err)
		return
	}
	writeArchive(c, archive.Filename, archive.Data)
}

func (h *Handler) shouldProcessAsync(res *export.Reservation) bool {
	if h.opts.Exports == nil {
		return false
	}
	if h.opts.AsyncThresholdBytes <= 0 {
		return false
	}
	return res.TotalBytes() > h.opts.AsyncThresholdBytes
}

func (h *Handler) exportStatus(c *gin.Context, ws *workspace.Workspace) {
	if h.opts.Exports == nil {
		respondWithError(c, apperrors.NotFound(apperrors.CodeExportNotFound, "エクスポートが見つかりません。"))
		return
	}
	record, err := h.opts.Exports.Get(c.Request.Context(), ws.ID, c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) exportDownload(c *gin.Context, ws *workspace.Workspace) {
	if h.opts.Exports == nil {
		respondWithError(c, apperrors.NotFound(apperrors.CodeExportNotFound, "エクスポートが見つかりません。"))
		return
	}
	record, data, err := h.opts.Exports.OpenArchive(c.Request.Context(), ws.ID, c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.Header("X-Export-Id", record.ExportID)
	writeArchive(c, record.Filename, data)
}

func writeArchive(c *gin.Context, filename string, data []byte) {
	encodedName := url.PathEscape(filename)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", filename, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/zip", data)
}

func parseJobID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Validation("id", "ジョブ ID が正しくありません。")
	}
	return id, nil
}

// sanitizeName はパス区切りを取り除いたファイル名を返します。
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "image"
	}
	return name
}
