package exporter

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rxtx-hosting/cardcount/pkg/durations"
	"github.com/rxtx-hosting/cardcount/pkg/estimator"
)

// Recorder receives every estimate and failure served by the API.
type Recorder interface {
	Record(result estimator.Result)
	RecordError(reason string)
}

type estimateKey struct {
	asn   uint32
	ips   int
	start int64
	end   int64
}

type APIServer struct {
	apiKey    string
	store     *durations.Store
	estimator *estimator.Estimator
	seed      uint64
	cache     *lru.Cache[estimateKey, estimator.Result]
	recorder  Recorder
}

type estimateQuery struct {
	IPs         int   `form:"ips"`
	Start       int64 `form:"start"`
	End         int64 `form:"end"`
	Diagnostics bool  `form:"diagnostics"`
}

type estimateResponse struct {
	ASN               uint32    `json:"asn"`
	IPs               int       `json:"ips"`
	WindowStart       int64     `json:"window_start"`
	WindowEnd         int64     `json:"window_end"`
	NumHosts          float64   `json:"num_hosts"`
	LowerBound        float64   `json:"lower_bound"`
	UpperBound        float64   `json:"upper_bound"`
	Confidence        float64   `json:"confidence"`
	Resamples         int       `json:"resamples"`
	Observed          int       `json:"observed"`
	ObservedDurations []float64 `json:"observed_durations,omitempty"`
	Timestamp         string    `json:"timestamp"`
}

type asnResponse struct {
	ASN       uint32 `json:"asn"`
	Durations int    `json:"durations"`
}

// NewAPIServer serves estimates computed from store. Every request draws
// from a generator seeded with seed, so equal queries give equal answers.
// recorder may be nil.
func NewAPIServer(apiKey string, store *durations.Store, est *estimator.Estimator, seed uint64, cacheSize int, recorder Recorder) (*APIServer, error) {
	cache, err := lru.New[estimateKey, estimator.Result](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create estimate cache: %w", err)
	}

	return &APIServer{
		apiKey:    apiKey,
		store:     store,
		estimator: est,
		seed:      seed,
		cache:     cache,
		recorder:  recorder,
	}, nil
}

func (a *APIServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if a.apiKey != "" {
		r.Use(a.authMiddleware())
	}

	r.GET("/asns", a.handleGetASNs)
	r.GET("/estimates/:asn", a.handleGetEstimate)

	return r
}

func (a *APIServer) StartServer(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	return a.Router().Run(addr)
}

func (a *APIServer) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth != "Bearer "+a.apiKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *APIServer) handleGetASNs(c *gin.Context) {
	asns := a.store.ASNs()
	response := make([]asnResponse, 0, len(asns))
	for _, asn := range asns {
		response = append(response, asnResponse{ASN: asn, Durations: a.store.Count(asn)})
	}

	c.JSON(http.StatusOK, gin.H{"asns": response})
}

func (a *APIServer) handleGetEstimate(c *gin.Context) {
	asn, err := strconv.ParseUint(c.Param("asn"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asn"})
		return
	}

	var q estimateQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := estimateKey{asn: uint32(asn), ips: q.IPs, start: q.Start, end: q.End}
	if result, ok := a.cache.Get(key); ok {
		c.JSON(http.StatusOK, resultToResponse(result, q.Diagnostics))
		return
	}

	rng := rand.New(rand.NewPCG(a.seed, a.seed))
	result, err := a.estimator.Estimate(c.Request.Context(), a.store, key.asn, q.IPs, q.Start, q.End, rng)
	if err != nil {
		status, reason := errorStatus(err)
		slog.Debug("Estimate failed", "asn", asn, "ips", q.IPs, "start", q.Start, "end", q.End, "reason", reason, "error", err)
		if a.recorder != nil {
			a.recorder.RecordError(reason)
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	a.cache.Add(key, result)
	if a.recorder != nil {
		a.recorder.Record(result)
	}

	c.JSON(http.StatusOK, resultToResponse(result, q.Diagnostics))
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, durations.ErrUnknownAS):
		return http.StatusNotFound, "unknown_as"
	case errors.Is(err, estimator.ErrEmptyPopulation):
		return http.StatusUnprocessableEntity, "empty_population"
	case errors.Is(err, estimator.ErrInvalidSampleSize), errors.Is(err, estimator.ErrSampleSizeTooLarge):
		return http.StatusBadRequest, "invalid_sample_size"
	case errors.Is(err, estimator.ErrInvalidWindow):
		return http.StatusBadRequest, "invalid_window"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func resultToResponse(result estimator.Result, diagnostics bool) estimateResponse {
	resp := estimateResponse{
		ASN:         result.AS,
		IPs:         result.IPs,
		WindowStart: result.WindowStart,
		WindowEnd:   result.WindowEnd,
		NumHosts:    result.NumHosts,
		LowerBound:  result.LowerBound,
		UpperBound:  result.UpperBound,
		Confidence:  result.Confidence,
		Resamples:   result.Resamples,
		Observed:    len(result.ObservedDurations),
		Timestamp:   result.Timestamp.Format(time.RFC3339),
	}
	if diagnostics {
		resp.ObservedDurations = result.ObservedDurations
	}
	return resp
}
