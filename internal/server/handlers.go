package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"capledger/internal/ledger"
	"capledger/internal/money"
	"capledger/internal/service"
)

type amountPayload struct {
	Amount decimal.Decimal `json:"amount"`
	Kind   string          `json:"kind"` // "absolute" (default) or "percentage"
}

func (p amountPayload) request() (money.Request, error) {
	kind := ledger.AmountKind(p.Kind)
	if p.Kind == "" {
		kind = ledger.AmountAbsolute
	}
	if kind != ledger.AmountAbsolute && kind != ledger.AmountPercentage {
		return money.Request{}, &ledger.InvalidAmountError{
			Amount: p.Amount,
			Reason: "unknown amount kind " + p.Kind,
		}
	}
	return money.Request{Amount: p.Amount, Kind: kind}, nil
}

type createCommitmentPayload struct {
	FundID uuid.UUID `json:"fund_id"`
	DealID uuid.UUID `json:"deal_id"`
	amountPayload
}

type batchPayload struct {
	DealID uuid.UUID `json:"deal_id"`
	Items  []struct {
		FundID uuid.UUID `json:"fund_id"`
		amountPayload
	} `json:"items"`
}

type createCallsPayload struct {
	amountPayload
	Count       int       `json:"count"`
	FirstDue    time.Time `json:"first_due"`
	CadenceDays int       `json:"cadence_days"`
}

type paymentPayload struct {
	Amount     decimal.Decimal `json:"amount"`
	RecordedBy string          `json:"recorded_by"`
}

type commitmentResponse struct {
	ID              uuid.UUID       `json:"id"`
	FundID          uuid.UUID       `json:"fund_id"`
	DealID          uuid.UUID       `json:"deal_id"`
	CommittedAmount decimal.Decimal `json:"committed_amount"`
	CalledAmount    decimal.Decimal `json:"called_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	Status          string          `json:"status"`
	PortfolioWeight decimal.Decimal `json:"portfolio_weight"`
	AmountKind      string          `json:"amount_kind"`
	RawAmount       decimal.Decimal `json:"raw_amount"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toCommitmentResponse(c ledger.Commitment) commitmentResponse {
	return commitmentResponse{
		ID:              c.ID,
		FundID:          c.FundID,
		DealID:          c.DealID,
		CommittedAmount: c.CommittedAmount,
		CalledAmount:    c.CalledAmount,
		PaidAmount:      c.PaidAmount,
		Status:          string(c.Status),
		PortfolioWeight: c.PortfolioWeight,
		AmountKind:      string(c.AmountKind),
		RawAmount:       c.RawAmount,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func toCommitmentResponses(cs []ledger.Commitment) []commitmentResponse {
	out := make([]commitmentResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, toCommitmentResponse(c))
	}
	return out
}

type callResponse struct {
	ID           uuid.UUID       `json:"id"`
	CommitmentID uuid.UUID       `json:"commitment_id"`
	CallAmount   decimal.Decimal `json:"call_amount"`
	PaidAmount   decimal.Decimal `json:"paid_amount"`
	DueDate      time.Time       `json:"due_date"`
	Status       string          `json:"status"`
}

func toCallResponses(calls []ledger.CapitalCall) []callResponse {
	out := make([]callResponse, 0, len(calls))
	for _, call := range calls {
		out = append(out, callResponse{
			ID:           call.ID,
			CommitmentID: call.CommitmentID,
			CallAmount:   call.CallAmount,
			PaidAmount:   call.PaidAmount,
			DueDate:      call.DueDate,
			Status:       string(call.Status),
		})
	}
	return out
}

func (s *Server) createCommitment(c *fiber.Ctx) error {
	var payload createCommitmentPayload
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}
	req, err := payload.request()
	if err != nil {
		return err
	}

	created, err := s.ledger.CreateCommitment(c.Context(), service.CommitmentRequest{
		FundID: payload.FundID,
		DealID: payload.DealID,
		Amount: req,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toCommitmentResponse(created))
}

func (s *Server) createCommitmentBatch(c *fiber.Ctx) error {
	var payload batchPayload
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	reqs := make([]service.CommitmentRequest, 0, len(payload.Items))
	for _, item := range payload.Items {
		req, err := item.request()
		if err != nil {
			return err
		}
		reqs = append(reqs, service.CommitmentRequest{
			FundID: item.FundID,
			DealID: payload.DealID,
			Amount: req,
		})
	}

	created, err := s.ledger.CreateCommitmentBatch(c.Context(), payload.DealID, reqs)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"commitments": toCommitmentResponses(created),
	})
}

func (s *Server) getCommitment(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	commitment, err := s.ledger.GetCommitment(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(toCommitmentResponse(commitment))
}

func (s *Server) deleteCommitment(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.ledger.DeleteCommitment(c.Context(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) getProgress(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := s.ledger.GetCommitmentProgress(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"commitment_id":   p.CommitmentID,
		"committed":       p.Committed,
		"called":          p.Called,
		"paid":            p.Paid,
		"outstanding":     p.Outstanding,
		"uncalled":        p.Uncalled,
		"paid_percentage": p.PaidPercentage,
		"status":          string(p.Status),
	})
}

func (s *Server) listCalls(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	calls, err := s.ledger.ListCallsByCommitment(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"calls": toCallResponses(calls)})
}

func (s *Server) createCalls(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var payload createCallsPayload
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}
	req, err := payload.request()
	if err != nil {
		return err
	}

	count := payload.Count
	if count == 0 {
		count = 1
	}
	schedule := service.CallSchedule{
		Amount:   req,
		Count:    count,
		FirstDue: payload.FirstDue,
		Cadence:  time.Duration(payload.CadenceDays) * 24 * time.Hour,
	}
	calls, err := s.ledger.CreateCalls(c.Context(), id, schedule)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"calls": toCallResponses(calls)})
}

func (s *Server) applyPayment(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var payload paymentPayload
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	result, err := s.ledger.ApplyPayment(c.Context(), id, payload.Amount, payload.RecordedBy)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment_id":              result.PaymentID,
		"call_status":             string(result.NewCallStatus),
		"commitment_status":       string(result.NewCommitmentStatus),
		"remaining_on_call":       result.RemainingOnCall,
		"remaining_on_commitment": result.RemainingOnCommitment,
	})
}

func (s *Server) listFundCommitments(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	cs, err := s.ledger.ListCommitmentsByFund(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"commitments": toCommitmentResponses(cs)})
}

func (s *Server) fundMetrics(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	m, err := s.ledger.RecalculateFundMetrics(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"fund_id":          m.FundID,
		"commitment_count": m.CommitmentCount,
		"total_committed":  m.TotalCommitted,
		"total_called":     m.TotalCalled,
		"total_paid":       m.TotalPaid,
		"concentration":    m.Concentration,
		"deployment_ratio": m.DeploymentRatio,
	})
}

func (s *Server) reconcileFund(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	report, err := s.ledger.ReconcileFund(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"fund_id":     report.FundID,
		"commitments": report.Commitments,
		"drifted":     report.Drifted,
	})
}

func (s *Server) listDealCommitments(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	cs, err := s.ledger.ListCommitmentsByDeal(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"commitments": toCommitmentResponses(cs)})
}

func (s *Server) dealMetrics(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	m, err := s.ledger.RecalculateDealMetrics(c.Context(), id)
	if err != nil {
		return err
	}
	shares := make([]fiber.Map, 0, len(m.ByFund))
	for _, share := range m.ByFund {
		shares = append(shares, fiber.Map{
			"fund_id":   share.FundID,
			"committed": share.Committed,
			"paid":      share.Paid,
		})
	}
	return c.JSON(fiber.Map{
		"deal_id":          m.DealID,
		"commitment_count": m.CommitmentCount,
		"total_committed":  m.TotalCommitted,
		"total_called":     m.TotalCalled,
		"total_paid":       m.TotalPaid,
		"by_fund":          shares,
	})
}

func pathID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "malformed id "+c.Params("id"))
	}
	return id, nil
}
