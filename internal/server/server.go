// Package server exposes the allocation ledger over HTTP/JSON.
package server

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"capledger/internal/ledger"
	"capledger/internal/observability"
	"capledger/internal/service"
)

// Server wires the ledger service into a fiber application.
type Server struct {
	ledger  *service.Ledger
	metrics *observability.Metrics
	log     zerolog.Logger
}

func New(l *service.Ledger, m *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{ledger: l, metrics: m, log: log}
}

// App builds the fiber application with all routes registered.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "capledger",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	app.Use(s.observe)

	v1 := app.Group("/api/v1")

	v1.Post("/commitments", s.createCommitment)
	v1.Post("/commitments/batch", s.createCommitmentBatch)
	v1.Get("/commitments/:id", s.getCommitment)
	v1.Delete("/commitments/:id", s.deleteCommitment)
	v1.Get("/commitments/:id/progress", s.getProgress)
	v1.Get("/commitments/:id/calls", s.listCalls)
	v1.Post("/commitments/:id/calls", s.createCalls)

	v1.Post("/calls/:id/payments", s.applyPayment)

	v1.Get("/funds/:id/commitments", s.listFundCommitments)
	v1.Get("/funds/:id/metrics", s.fundMetrics)
	v1.Post("/funds/:id/reconcile", s.reconcileFund)

	v1.Get("/deals/:id/commitments", s.listDealCommitments)
	v1.Get("/deals/:id/metrics", s.dealMetrics)

	return app
}

// observe records per-route request counts and latency.
func (s *Server) observe(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if s.metrics != nil {
		route := c.Route().Path
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(c.Response().StatusCode())).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
	return err
}

// errorHandler maps domain errors onto HTTP statuses. Validation failures
// are 400, missing entities 404, the (fund, deal) uniqueness conflict 409,
// and bound violations (capacity, over-commitment, overpayment) 422 with the
// figures the caller needs to correct the request.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var (
		notFound    *ledger.NotFoundError
		duplicate   *ledger.DuplicateCommitmentError
		capacity    *ledger.CapacityExceededError
		overCommit  *ledger.OverCommitmentError
		overpayment *ledger.OverpaymentError
		badAmount   *ledger.InvalidAmountError
		badBase     *ledger.InvalidBaseError
		fiberErr    *fiber.Error
	)

	switch {
	case errors.As(err, &notFound):
		return c.Status(fiber.StatusNotFound).JSON(errorBody("not_found", err, fiber.Map{
			"kind": notFound.Kind,
			"id":   notFound.ID.String(),
		}))
	case errors.As(err, &duplicate):
		return c.Status(fiber.StatusConflict).JSON(errorBody("duplicate_commitment", err, fiber.Map{
			"fund_id": duplicate.FundID.String(),
			"deal_id": duplicate.DealID.String(),
		}))
	case errors.As(err, &capacity):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorBody("capacity_exceeded", err, fiber.Map{
			"fund_id":   capacity.FundID.String(),
			"committed": capacity.Committed.String(),
			"requested": capacity.Requested.String(),
			"target":    capacity.Target.String(),
		}))
	case errors.As(err, &overCommit):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorBody("over_commitment", err, fiber.Map{
			"commitment_id": overCommit.CommitmentID.String(),
			"called":        overCommit.Called.String(),
			"requested":     overCommit.Requested.String(),
			"committed":     overCommit.Committed.String(),
		}))
	case errors.As(err, &overpayment):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorBody("overpayment", err, fiber.Map{
			"call_id":     overpayment.CallID.String(),
			"paid":        overpayment.Paid.String(),
			"requested":   overpayment.Requested.String(),
			"call_amount": overpayment.CallAmount.String(),
		}))
	case errors.As(err, &badAmount):
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("invalid_amount", err, nil))
	case errors.As(err, &badBase):
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("invalid_base", err, nil))
	case errors.As(err, &fiberErr):
		return c.Status(fiberErr.Code).JSON(errorBody("http_error", err, nil))
	default:
		s.log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal_error",
		})
	}
}

func errorBody(code string, err error, detail fiber.Map) fiber.Map {
	body := fiber.Map{
		"error":   code,
		"message": err.Error(),
	}
	if detail != nil {
		body["detail"] = detail
	}
	return body
}
