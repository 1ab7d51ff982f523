package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"sitewatch/monitor/probe"
	"sitewatch/monitor/progress"
	"sitewatch/monitor/scheduler"
	"sitewatch/monitor/store"
	"sitewatch/monitor/streaming"
	"sitewatch/monitor/timeline"
	"sitewatch/monitor/urlutil"
)

type API struct {
	store     store.Store
	sched     *scheduler.Scheduler
	checker   *probe.Checker
	pool      *WorkerPool
	tracker   *progress.Tracker
	timeline  *timeline.Store
	publisher streaming.Publisher

	wsHub *ProgressHub

	// Storm protection for the manual recrawl endpoint.
	recrawlLimiter *rate.Limiter
}

func NewAPI(st store.Store, sched *scheduler.Scheduler, checker *probe.Checker, pool *WorkerPool, tracker *progress.Tracker, tl *timeline.Store, publisher streaming.Publisher) *API {
	api := &API{
		store:          st,
		sched:          sched,
		checker:        checker,
		pool:           pool,
		tracker:        tracker,
		timeline:       tl,
		publisher:      publisher,
		recrawlLimiter: rate.NewLimiter(rate.Limit(1), 5),
	}
	api.wsHub = NewProgressHub(tracker)
	return api
}

// Routes registers every endpoint on mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/projects", a.handleCreateProject)
	mux.HandleFunc("GET /api/projects", a.handleListProjects)
	mux.HandleFunc("GET /api/projects/{id}", a.handleGetProject)
	mux.HandleFunc("DELETE /api/projects/{id}", a.handleDeleteProject)
	mux.HandleFunc("GET /api/projects/{id}/artifact", a.handleGetArtifact)
	mux.HandleFunc("GET /api/projects/{id}/versions", a.handleListVersions)
	mux.HandleFunc("GET /api/projects/{id}/versions/{version}", a.handleGetVersion)
	mux.HandleFunc("GET /api/projects/{id}/progress", a.handleGetProgress)
	mux.HandleFunc("GET /api/projects/{id}/progress/ws", a.handleProgressStream)
	mux.HandleFunc("GET /api/projects/{id}/timeline", a.handleGetTimeline)
	mux.HandleFunc("GET /api/projects/{id}/jobs", a.handleListJobs)
	mux.HandleFunc("POST /api/projects/{id}/recrawl", a.handleRecrawl)
	mux.HandleFunc("GET /api/scheduler/stats", a.handleSchedulerStats)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) loadProject(w http.ResponseWriter, r *http.Request) *store.Project {
	project, err := a.store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil
	}
	return project
}

type createProjectRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

type createProjectResponse struct {
	Project *store.Project `json:"project"`
	JobID   string         `json:"job_id"`
}

func (a *API) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	parsed, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, "url must be absolute http(s)")
		return
	}
	normalized := urlutil.Normalize(parsed.String())
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = parsed.Hostname()
	}

	ctx := r.Context()
	if existing, err := a.store.GetProjectByURL(ctx, normalized); err == nil {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":   "project already exists for this URL",
			"project": existing,
		})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	project := &store.Project{
		ID:     uuid.NewString(),
		URL:    normalized,
		Name:   name,
		Status: store.StatusPending,
	}
	if err := a.store.CreateProject(ctx, project); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "project already exists for this URL")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job := &store.CrawlJob{
		ID:            uuid.NewString(),
		ProjectID:     project.ID,
		Status:        store.JobPending,
		TriggerReason: store.TriggerInitial,
	}
	if err := a.store.CreateCrawlJob(ctx, job); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := a.sched.ScheduleProject(ctx, project.ID); err != nil {
		log.Printf("api: enroll %s in scheduler: %v", project.ID, err)
	}
	if err := a.pool.EnqueueFullRescrape(ctx, project.ID, job.ID); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, streaming.TopicProjectCreated, project); err != nil {
			log.Printf("api: publish project created: %v", err)
		}
	}
	writeJSON(w, http.StatusCreated, createProjectResponse{Project: project, JobID: job.ID})
}

func (a *API) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := a.store.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects, "count": len(projects)})
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project := a.loadProject(w, r)
	if project == nil {
		return
	}
	interval, err := a.sched.CheckInterval(r.Context(), project.ID)
	if err != nil {
		log.Printf("api: check interval %s: %v", project.ID, err)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project":              project,
		"check_interval_hours": interval,
	})
}

func (a *API) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	project := a.loadProject(w, r)
	if project == nil {
		return
	}
	ctx := r.Context()
	if err := a.store.DeleteProject(ctx, project.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := a.sched.UnscheduleProject(ctx, project.ID); err != nil {
		log.Printf("api: unschedule %s: %v", project.ID, err)
	}
	if err := a.tracker.Clear(ctx, project.ID); err != nil {
		log.Printf("api: clear progress %s: %v", project.ID, err)
	}
	a.timeline.Forget(project.ID)
	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, streaming.TopicProjectDeleted, project); err != nil {
			log.Printf("api: publish project deleted: %v", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	project := a.loadProject(w, r)
	if project == nil {
		return
	}
	artifact, err := a.store.GetArtifact(r.Context(), project.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no artifact generated yet")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Artifact-Version", strconv.Itoa(artifact.Version))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(artifact.Content))
}

type versionSummary struct {
	Version       int       `json:"version"`
	ContentHash   string    `json:"content_hash"`
	TriggerReason string    `json:"trigger_reason"`
	GeneratedAt   time.Time `json:"generated_at"`
}

func (a *API) handleListVersions(w http.ResponseWriter, r *http.Request) {
	project := a.loadProject(w, r)
	if project == nil {
		return
	}
	versions, err := a.store.ListArtifactVersions(r.Context(), project.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summaries := make([]versionSummary, 0, len(versions))
	for _, v := range versions {
		summaries = append(summaries, versionSummary{
			Version:       v.Version,
			ContentHash:   v.ContentHash,
			TriggerReason: v.TriggerReason,
			GeneratedAt:   v.GeneratedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": summaries, "count": len(summaries)})
}

func (a *API) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	project := a.loadProject(w, r)
	if project == nil {
		return
	}
	n, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}
	version, err := a.store.GetArtifactVersion(r.Context(), project.ID, n)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "version not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (a *API) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	project := a.loadProject(w, r)
	if project == nil {
		return
	}
	snap, err := a.tracker.Get(r.Context(), project.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": false, "status": project.Status})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"active": true, "progress": snap})
}

func (a *API) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	project := a.loadProject(w, r)
	if project == nil {
		return
	}
	events := a.timeline.GetEvents(project.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	project := a.loadProject(w, r)
	if project == nil {
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	jobs, err := a.store.ListCrawlJobs(r.Context(), project.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// handleRecrawl triggers a manual full rescrape. The cooldown window is
// honored unless ?force=true, which clears it first.
func (a *API) handleRecrawl(w http.ResponseWriter, r *http.Request) {
	if !a.recrawlLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "recrawl rate limit exceeded, retry later")
		return
	}
	project := a.loadProject(w, r)
	if project == nil {
		return
	}
	ctx := r.Context()
	if r.URL.Query().Get("force") == "true" {
		if err := a.sched.ClearCooldown(ctx, project.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	result, err := a.checker.TriggerRescrape(ctx, project, store.TriggerManual)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "a crawl is already running for this project")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !result.Triggered {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, streaming.TopicRescrapeTriggered, result); err != nil {
			log.Printf("api: publish rescrape triggered: %v", err)
		}
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (a *API) handleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.sched.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
