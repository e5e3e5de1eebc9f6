package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"adstudio/internal/apperr"
	"adstudio/internal/editor"
	"adstudio/internal/export"
	"adstudio/internal/generation"
	"adstudio/internal/media"
	"adstudio/internal/pipeline"
	"adstudio/internal/prompt"
	"adstudio/internal/storyboard"
)

func (s *Server) getCredential(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"set": s.creds.IsSet()})
}

type credentialBody struct {
	Key string `json:"key"`
}

func (s *Server) putCredential(c *gin.Context) {
	var body credentialBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	ctx, cancel := s.callContext(c)
	defer cancel()

	key := strings.TrimSpace(body.Key)
	if s.validator != nil {
		checked, err := s.validator.Validate(ctx, key)
		if err != nil {
			s.fail(c, err)
			return
		}
		key = checked
	} else if key == "" {
		badRequest(c, "key is required")
		return
	}
	if err := s.creds.Set(ctx, key); err != nil {
		s.fail(c, apperr.Wrap(err, apperr.KindProvider, "store API key"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"set": true})
}

func (s *Server) deleteCredential(c *gin.Context) {
	if err := s.creds.Clear(c.Request.Context()); err != nil {
		s.fail(c, apperr.Wrap(err, apperr.KindProvider, "clear API key"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"set": false})
}

func (s *Server) listAssets(c *gin.Context) {
	ws := current(c)
	c.JSON(http.StatusOK, gin.H{
		"models":   ws.Registry.Models(),
		"products": ws.Registry.Products(),
	})
}

// assetForm is a model or product upload, either multipart with "images"
// files or JSON with data URLs.
type assetForm struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Style       string   `json:"style"`
	Images      []string `json:"images"`
}

func readAssetForm(c *gin.Context) (assetForm, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	var form assetForm
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBindJSON(&form); err != nil {
			return assetForm{}, fmt.Errorf("invalid body: %w", err)
		}
		return form, nil
	}

	mf, err := c.MultipartForm()
	if err != nil {
		return assetForm{}, fmt.Errorf("invalid multipart form: %w", err)
	}
	form.Name = strings.TrimSpace(c.PostForm("name"))
	form.Description = strings.TrimSpace(c.PostForm("description"))
	form.Style = strings.TrimSpace(c.PostForm("style"))
	for _, fh := range mf.File["images"] {
		f, err := fh.Open()
		if err != nil {
			return assetForm{}, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return assetForm{}, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		form.Images = append(form.Images, media.FromBytes(fh.Header.Get("Content-Type"), data))
	}
	return form, nil
}

// createModel renders a character sheet. With ?save=false the sheet is kept
// as a draft so it can be regenerated before /models/save.
func (s *Server) createModel(c *gin.Context) {
	form, err := readAssetForm(c)
	if err != nil {
		badRequest(c, "%v", err)
		return
	}
	style, err := prompt.ParseStyleMode(form.Style)
	if err != nil {
		badRequest(c, "%v", err)
		return
	}

	ws := current(c)
	ctx, cancel := s.callContext(c)
	defer cancel()

	sheet, err := ws.Models.Generate(ctx, generation.ModelSheetRequest{
		Name:        form.Name,
		Description: form.Description,
		Images:      form.Images,
		Style:       style,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if c.Query("save") == "false" {
		c.JSON(http.StatusOK, gin.H{"sheetImage": sheet, "saved": false})
		return
	}
	s.saveModel(c)
}

func (s *Server) saveModel(c *gin.Context) {
	m, err := current(c).Models.Save()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (s *Server) createProduct(c *gin.Context) {
	form, err := readAssetForm(c)
	if err != nil {
		badRequest(c, "%v", err)
		return
	}
	p, err := current(c).Products.Save(storyboard.Product{
		Name:        form.Name,
		Description: form.Description,
		Images:      form.Images,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) generate(c *gin.Context) {
	var req pipeline.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	runID, err := current(c).Controller.Start(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": runID})
}

func (s *Server) cancel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"canceled": current(c).Controller.Cancel()})
}

func (s *Server) state(c *gin.Context) {
	c.JSON(http.StatusOK, current(c).Controller.Snapshot())
}

// events streams a snapshot on connect and after every state change. A slow
// client skips intermediate snapshots but always receives the latest.
func (s *Server) events(c *gin.Context) {
	ctrl := current(c).Controller
	latest := make(chan pipeline.Snapshot, 1)
	unsubscribe := ctrl.Subscribe(func(snap pipeline.Snapshot) {
		select {
		case latest <- snap:
		default:
			select {
			case <-latest:
			default:
			}
			latest <- snap
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("state", ctrl.Snapshot())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case snap := <-latest:
			c.SSEvent("state", snap)
			return true
		}
	})
}

func (s *Server) music(c *gin.Context) {
	ctx, cancel := s.callContext(c)
	defer cancel()
	out, err := current(c).Controller.GenerateMusicPrompt(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) exportZip(c *gin.Context) {
	board := current(c).Controller.Snapshot().Storyboard
	if board == nil {
		s.fail(c, apperr.Precondition("no storyboard has been generated"))
		return
	}
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", `attachment; filename="storyboard.zip"`)
	if _, err := export.WriteZip(c.Writer, board); err != nil {
		if c.Writer.Written() {
			s.logger.Warn("export interrupted", "err", err)
			return
		}
		c.Writer.Header().Del("Content-Type")
		c.Writer.Header().Del("Content-Disposition")
		s.fail(c, apperr.Wrap(err, apperr.KindInvalidInput, "export frames"))
	}
}

func (s *Server) selectScene(c *gin.Context) {
	id, ok := sceneID(c)
	if !ok {
		return
	}
	ctrl := current(c).Controller
	if err := ctrl.SelectScene(id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (s *Server) retryFrames(c *gin.Context) {
	id, ok := sceneID(c)
	if !ok {
		return
	}
	ctrl := current(c).Controller
	ctx, cancel := s.callContext(c)
	defer cancel()
	if err := ctrl.RetryFrames(ctx, id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (s *Server) adapt(c *gin.Context) {
	id, ok := sceneID(c)
	if !ok {
		return
	}
	ctx, cancel := s.callContext(c)
	defer cancel()
	platform := c.Param("platform")
	out, err := current(c).Controller.AdaptPrompt(ctx, id, platform)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sceneId": id, "platform": platform, "prompt": out})
}

func (s *Server) blockPrompt(c *gin.Context) {
	id, ok := sceneID(c)
	if !ok {
		return
	}
	frame, err := storyboard.ParseFrame(c.Param("frame"))
	if err != nil {
		badRequest(c, "%v", err)
		return
	}
	ctx, cancel := s.callContext(c)
	defer cancel()
	out, err := current(c).Controller.GenerateBlockPrompt(ctx, id, frame)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sceneId": id, "frame": frame, "prompt": out})
}

type editBody struct {
	editor.EditParams
	// Save defaults to true.
	Save *bool `json:"save"`
}

func (s *Server) editFrame(c *gin.Context) {
	id, ok := sceneID(c)
	if !ok {
		return
	}
	frame, err := storyboard.ParseFrame(c.Param("frame"))
	if err != nil {
		badRequest(c, "%v", err)
		return
	}
	var body editBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}

	ed, err := current(c).ImageEditor(id, frame)
	if err != nil {
		s.fail(c, err)
		return
	}
	ctx, cancel := s.callContext(c)
	defer cancel()
	image, err := ed.Generate(ctx, body.EditParams)
	if err != nil {
		s.fail(c, err)
		return
	}

	saved := false
	if (body.Save == nil || *body.Save) && image != storyboard.EditErrorImage {
		if _, err := ed.Save(); err != nil {
			s.fail(c, err)
			return
		}
		saved = true
	}
	c.JSON(http.StatusOK, gin.H{"sceneId": id, "frame": frame, "image": image, "saved": saved})
}

func (s *Server) suggest(c *gin.Context) {
	id, ok := sceneID(c)
	if !ok {
		return
	}
	r, err := current(c).Rewriter(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	ctx, cancel := s.callContext(c)
	defer cancel()
	out, err := r.Suggest(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sceneId": id, "suggestion": out})
}

type rewriteBody struct {
	// Request may be empty to use the last suggestion.
	Request string `json:"request"`
	Save    *bool  `json:"save"`
}

func (s *Server) rewrite(c *gin.Context) {
	id, ok := sceneID(c)
	if !ok {
		return
	}
	var body rewriteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	ws := current(c)
	r, err := ws.Rewriter(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	ctx, cancel := s.callContext(c)
	defer cancel()
	out, err := r.Generate(ctx, body.Request)
	if err != nil {
		s.fail(c, err)
		return
	}

	saved := false
	if body.Save == nil || *body.Save {
		if _, err := r.Save(); err != nil {
			s.fail(c, err)
			return
		}
		ws.CloseRewriter(id)
		saved = true
	}
	c.JSON(http.StatusOK, gin.H{"sceneId": id, "title": out.Title, "description": out.Description, "saved": saved})
}

// video is bounded by the generation client's video timeout rather than the
// request timeout.
func (s *Server) video(c *gin.Context) {
	id, ok := sceneID(c)
	if !ok {
		return
	}
	url, err := current(c).Controller.GenerateSceneVideo(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sceneId": id, "videoUrl": url})
}
