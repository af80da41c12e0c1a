package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/studyengine/core/internal/analyzer"
	"github.com/studyengine/core/internal/bank"
	"github.com/studyengine/core/internal/bus"
	"github.com/studyengine/core/internal/config"
	"github.com/studyengine/core/internal/domain"
	"github.com/studyengine/core/internal/engine/personalization"
	"github.com/studyengine/core/internal/httpapi"
	"github.com/studyengine/core/internal/ingest"
	"github.com/studyengine/core/internal/mirror"
	"github.com/studyengine/core/internal/obs"
	"github.com/studyengine/core/internal/store"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "HTTP listen address (overrides config/env)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the study engine HTTP API",
	Long:  `Wires config, the item bank, learner-state store, bus, ingest pipeline, and analyzer reader into one HTTP server.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.FromOSEnviron())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTPAddr = addr
	}

	logger := obs.NewLogger(os.Stderr)
	metrics := obs.NewMetrics(nil)

	itemBank, err := bank.Load(cfg.ScopeDirs)
	if err != nil {
		return fmt.Errorf("load item bank: %w", err)
	}
	if loadErrs := itemBank.LoadErrors(); len(loadErrs) > 0 {
		for path, err := range loadErrs {
			logger.Warn("skipped invalid item file", obs.Fields{"path": path, "err": err.Error()})
		}
	}

	learnerStore, err := store.NewFileStore(cfg.StudyStateDir)
	if err != nil {
		return fmt.Errorf("open learner state store: %w", err)
	}

	blueprints, err := loadBlueprints(cfg.BlueprintPath)
	if err != nil {
		logger.Warn("no blueprint loaded", obs.Fields{"path": cfg.BlueprintPath, "err": err.Error()})
		blueprints = map[string]domain.Blueprint{}
	}

	evBus := bus.New()
	engine := personalization.NewEngine("studyengine", cfg.EngineVersion, uint64(time.Now().UnixNano()))

	lessonStore, err := bus.NewFileLessonStore(filepath.Join(cfg.StudyStateDir, "lessons"))
	if err != nil {
		return fmt.Errorf("open lesson store: %w", err)
	}
	bus.NewLessonService(evBus, lessonStore, logger)
	bus.NewStateService(evBus, learnerStore, engine, logger, metrics, filepath.Join(cfg.StudyStateDir, "snapshots.ndjson"))

	var mirrorStore *mirror.Store
	if cfg.UseTableMirror {
		mirrorStore, err = mirror.Open(cfg.MirrorDSN)
		if err != nil {
			return fmt.Errorf("open mirror: %w", err)
		}
		defer mirrorStore.Close()
	}

	var sink domain.EventSink
	if cfg.WriteTelemetry {
		sink = ingest.NewEventSink(cfg.EventsPath)
	} else {
		sink = noopSink{}
	}

	var mirrorIface domain.Mirror
	if mirrorStore != nil {
		mirrorIface = mirrorStore
	}

	ingestHandler := ingest.NewHandler(ingest.Config{
		Token:         cfg.IngestToken,
		Window:        cfg.IngestWindow,
		WindowMax:     cfg.IngestWindowMax,
		MaxBytes:      cfg.IngestMaxBytes,
		SchemaVersion: cfg.SchemaVersion,
		UseMirror:     cfg.UseTableMirror,
	}, sink, mirrorIface, itemBank, evBus, logger, metrics)

	analyticsReader := analyzer.NewFileReader(cfg.AnalyticsOutPath)

	apiServer := httpapi.New(itemBank, learnerStore, analyticsReader, blueprints, engine, evBus, ingestHandler, nil, logger, metrics)
	if cfg.MetricsEnabled {
		apiServer.EnableMetrics()
	}

	logger.Info("serving", obs.Fields{"addr": cfg.HTTPAddr})
	return http.ListenAndServe(cfg.HTTPAddr, apiServer.Handler())
}

func loadBlueprints(path string) (map[string]domain.Blueprint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bp domain.Blueprint
	if err := json.Unmarshal(raw, &bp); err != nil {
		return nil, fmt.Errorf("parse blueprint %s: %w", path, err)
	}
	return map[string]domain.Blueprint{bp.ID: bp}, nil
}

// noopSink discards every event — used when telemetry writing is
// disabled (WRITE_TELEMETRY=0) but the engine still needs a
// domain.EventSink to satisfy ingest.NewHandler.
type noopSink struct{}

func (noopSink) AppendAttempt(domain.AttemptEvent) error { return nil }
func (noopSink) AppendSession(domain.SessionEvent) error { return nil }
