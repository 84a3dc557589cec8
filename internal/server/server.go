package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"datasmith/internal/config"
	"datasmith/internal/diag"
	"datasmith/internal/pipeline"
	"datasmith/pkg/contract"
	"datasmith/pkg/dataset"
	fsreader "datasmith/plugins/reader/filesystem"
	fswriter "datasmith/plugins/writer/filesystem"
)

const defaultMaxUploadMB = 32

// Server: 上传/生成配置/处理/下载 的 HTTP 外壳；处理逻辑全部委托给 pipeline。
type Server struct {
	cfg  config.Server
	comp pipeline.Components
	set  pipeline.Settings
	log  *zap.Logger
}

// New 创建 Server。Reader/Writer 被替换为限定在上传/结果目录内的文件系统实现。
func New(cfg config.Server, comp pipeline.Components, set pipeline.Settings, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.UploadDir == "" || cfg.ResultDir == "" {
		return nil, fmt.Errorf("server: %w: upload_dir/result_dir required", contract.ErrInvalidInput)
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = defaultMaxUploadMB
	}
	for _, d := range []string{cfg.UploadDir, cfg.ResultDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("server: mkdir %s: %w", d, err)
		}
	}
	comp.Reader = fsreader.New(&fsreader.Options{BaseDir: cfg.UploadDir, Extensions: []string{".csv"}})
	w, err := fswriter.New(&fswriter.Options{OutputDir: cfg.ResultDir})
	if err != nil {
		return nil, err
	}
	comp.Writer = w
	// 服务端不渲染终端进度，也不写变更旁路文件
	set.Changes = false
	return &Server{cfg: cfg, comp: comp, set: set, log: log}, nil
}

// Handler 构建路由与中间件。
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	r.Get("/healthz", s.healthz)
	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.upload)
		r.Post("/generate-config", s.generateConfig)
		r.Post("/process", s.process)
		r.Get("/download/{filename}", s.download)
	})
	return r
}

// ListenAndServe 启动服务，ctx 取消时优雅关闭。
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("listening", zap.String("comp", "server"), zap.String("addr", addr))
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return err
		}
		<-errc
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		t0 := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("comp", "server"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("duration_ms", time.Since(t0).Milliseconds()),
		)
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type uploadResponse struct {
	Success  bool     `json:"success"`
	Filename string   `json:"filename"`
	Columns  []string `json:"columns"`
	Rows     int      `json:"rows"`
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.cfg.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	name := baseName(header.Filename)
	if name == "" || !strings.HasSuffix(strings.ToLower(name), ".csv") {
		writeError(w, http.StatusBadRequest, "Invalid file format. Only CSV files are accepted.")
		return
	}
	path := filepath.Join(s.cfg.UploadDir, name)
	if err := saveFile(path, file); err != nil {
		diag.Fail(s.log, "server", "save upload failed", err, zap.String("file", name))
		writeError(w, http.StatusInternalServerError, "Failed to save file")
		return
	}

	ds, err := s.decodeUpload(r.Context(), name)
	if err != nil {
		_ = os.Remove(path)
		writeError(w, http.StatusBadRequest, "Error reading CSV file: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, Filename: name, Columns: ds.Columns(), Rows: ds.Len()})
}

type generateRequest struct {
	Description string   `json:"description"`
	Columns     []string `json:"columns"`
}

type generateResponse struct {
	Config contract.Plan `json:"config"`
}

// generateConfig 合成配置；合成失败时回退为空操作配置，因此总是返回 200。
func (s *Server) generateConfig(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	plan := pipeline.SynthesizePlan(r.Context(), s.comp, s.set, req.Description, req.Columns, s.log)
	writeJSON(w, http.StatusOK, generateResponse{Config: plan})
}

type processRequest struct {
	Filename string          `json:"filename"`
	Config   json.RawMessage `json:"config"`
}

type processResponse struct {
	Success    bool             `json:"success"`
	RunID      string           `json:"run_id"`
	ResultFile string           `json:"result_file"`
	Summary    pipeline.Summary `json:"summary"`
}

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := baseName(req.Filename)
	if name == "" {
		writeError(w, http.StatusBadRequest, "filename required")
		return
	}
	if _, err := os.Stat(filepath.Join(s.cfg.UploadDir, name)); err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	plan := contract.DefaultPlan()
	if len(req.Config) > 0 && string(req.Config) != "null" {
		if err := json.Unmarshal(req.Config, &plan); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid config: "+err.Error())
			return
		}
	}

	runID := uuid.NewString()
	set := s.set
	set.Input = name
	set.Output = ResultName(runID, name)
	log := s.log.With(zap.String("run_id", runID), zap.String("file", name))
	res, err := pipeline.Run(r.Context(), s.comp, set, pipeline.PlanSource{Plan: &plan}, log)
	if err != nil {
		diag.Fail(log, "server", "process failed", err)
		switch {
		case errors.Is(err, contract.ErrInputMissing):
			writeError(w, http.StatusNotFound, "File not found")
		case errors.Is(err, contract.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "Error processing file: "+err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "Error processing file: "+err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, processResponse{Success: true, RunID: runID, ResultFile: set.Output, Summary: res.Summary})
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	name := baseName(chi.URLParam(r, "filename"))
	if name == "" {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	f, err := os.Open(filepath.Join(s.cfg.ResultDir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to open file")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) decodeUpload(ctx context.Context, name string) (*dataset.Dataset, error) {
	rc, err := s.comp.Reader.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return s.comp.Codec.Decode(ctx, rc)
}

// ResultName: 结果文件名，带运行 ID 避免并发覆盖。
func ResultName(runID, input string) string {
	return "enhanced_" + runID + "_" + baseName(input)
}

// baseName 只保留文件名部分；"."、".." 与空串视为非法。
func baseName(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	b := filepath.Base(filepath.FromSlash(p))
	if b == "." || b == ".." || b == string(filepath.Separator) {
		return ""
	}
	return b
}

func saveFile(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return err
	}
	return dst.Close()
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
