package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"feedflow/internal/opml"
	"feedflow/internal/registry"
)

type opmlImportResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
}

func (a *App) handleExportOPML(w http.ResponseWriter, _ *http.Request) {
	subscriptions := opml.FromDescriptors(a.agg.Descriptors())

	filename := "feedflow-subscriptions-" + a.agg.Now().UTC().Format("20060102") + ".opml"

	w.Header().Set("Content-Type", "text/x-opml; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	err := opml.Write(w, exportTitle, subscriptions)
	if err != nil {
		slog.Warn("export opml failed", "err", err)
		http.Error(w, "failed to export opml", http.StatusInternalServerError)

		return
	}
}

func (a *App) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	subscriptions, message := parseOPMLUpload(w, r)
	if message != "" {
		writeJSON(w, http.StatusBadRequest, opmlImportResponse{Status: "error", Message: message})

		return
	}

	descs := make([]registry.FeedDescriptor, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		descs = append(descs, subscription.Descriptor())
	}

	added, err := a.agg.AddFeeds(context.WithoutCancel(r.Context()), descs)
	if err != nil {
		slog.Info("opml import skipped feeds", "err", err)
	}

	imported := len(added)
	skipped := len(descs) - imported

	slog.Info("opml imported", "imported", imported, "skipped", skipped)

	if imported == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, opmlImportResponse{
			Status:  "error",
			Message: opmlImportMessage(imported, skipped, "no valid feeds found in OPML"),
			Skipped: skipped,
		})

		return
	}

	writeJSON(w, http.StatusOK, opmlImportResponse{
		Status:   "success",
		Message:  opmlImportMessage(imported, skipped, ""),
		Imported: imported,
		Skipped:  skipped,
	})
}

//nolint:gocritic // Tuple return keeps upload parsing call sites simple.
func parseOPMLUpload(w http.ResponseWriter, r *http.Request) ([]opml.Subscription, string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxOPMLUploadBytes)

	parseErr := r.ParseMultipartForm(maxOPMLUploadBytes)
	if parseErr != nil {
		return nil, "invalid OPML upload"
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, "missing OPML file"
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			slog.Warn("opml upload close failed", "err", closeErr)
		}
	}()

	subscriptions, err := opml.Parse(file)
	if err != nil {
		return nil, "invalid OPML file"
	}

	return subscriptions, ""
}

func opmlImportMessage(imported, skipped int, fallbackMessage string) string {
	message := fallbackMessage
	if message == "" {
		message = "Imported " + strconv.Itoa(imported) + " feed"
		if imported != 1 {
			message += "s"
		}
	}

	if skipped > 0 {
		message += " (" + strconv.Itoa(skipped) + " skipped)"
	}

	return message
}
