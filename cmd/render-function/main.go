package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/pdfrenderer/internal/config"
	"github.com/Lllllllleong/pdfrenderer/internal/gcp"
	"github.com/Lllllllleong/pdfrenderer/internal/httpapi"
	"github.com/Lllllllleong/pdfrenderer/internal/logging"
	"github.com/Lllllllleong/pdfrenderer/internal/models"
	"github.com/Lllllllleong/pdfrenderer/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	rendererInstance *services.RendererFunction
	processHandler   http.HandlerFunc
	cfg              *config.Config
	once             sync.Once
	initErr          error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("ProcessPDF", processPDF)
	functions.CloudEvent("RenderOnFinalize", renderOnFinalize)
}

func main() {
	port := gcp.GetEnv("PORT", "8080")
	if err := funcframework.Start(port); err != nil {
		slog.Error("funcframework.Start failed", "error", err)
		os.Exit(1)
	}
}

// setup builds the renderer once per instance.
func setup() error {
	once.Do(func() {
		cfg, initErr = config.Load()
		if initErr != nil {
			return
		}
		logger := logging.Setup(os.Stdout, cfg.LogLevel, cfg.LogFormat)
		rendererInstance, initErr = services.NewRenderer(context.Background(), cfg)
		if initErr != nil {
			return
		}
		processHandler = httpapi.New(httpapi.Config{RedactErrors: cfg.RedactErrors}, rendererInstance, logger).ProcessHandler()
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
	}
	return initErr
}

// processPDF is the HTTP entry point and accepts the same body as POST /process.
func processPDF(w http.ResponseWriter, r *http.Request) {
	if err := setup(); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: "renderer unavailable"})
		return
	}
	processHandler(w, r)
}

// renderOnFinalize renders uploads of .../{contentId}/original.pdf.
func renderOnFinalize(ctx context.Context, e cloudevents.Event) error {
	if err := setup(); err != nil {
		return err
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Returning the error marks the invocation as failed.
	return rendererInstance.ProcessEvent(ctx, gcsEvent, cfg.TriggerObjectName)
}
