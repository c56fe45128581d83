package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cpvl/dues-server/internal/events"
	"github.com/cpvl/dues-server/internal/export"
	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/metrics"
	"github.com/cpvl/dues-server/internal/models"
	"github.com/cpvl/dues-server/internal/pix"
	"github.com/cpvl/dues-server/internal/repository"
	"github.com/cpvl/dues-server/internal/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Service defines all the business logic operations
type Service interface {
	// Authentication
	SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error)
	Me(ctx context.Context, actor models.Actor) (*models.User, error)

	// Pilots
	GetPilot(ctx context.Context, actor models.Actor, pilotID int64) (*models.User, error)
	UpdatePilotStatus(ctx context.Context, actor models.Actor, pilotID int64, req models.UpdatePilotStatusRequest) (*models.User, error)

	// Ledger reads
	ListPayments(ctx context.Context, actor models.Actor, pilotID int64, filter ledger.YearFilter) ([]ledger.Entry, error)
	LedgerView(ctx context.Context, actor models.Actor, pilotID int64, filter ledger.YearFilter) (*ledger.View, error)
	PixQuote(ctx context.Context, actor models.Actor, pilotID int64, plan ledger.PlanType, filter ledger.YearFilter) (*models.PixQuoteResponse, error)
	PixQRCode(ctx context.Context, actor models.Actor, pilotID int64, plan ledger.PlanType, filter ledger.YearFilter) ([]byte, error)
	ExportLedger(ctx context.Context, actor models.Actor, pilotID int64, filter ledger.YearFilter) ([]byte, error)
	Receipt(ctx context.Context, actor models.Actor, pilotID int64, key ledger.Key) ([]byte, error)

	// Ledger writes
	CreatePayment(ctx context.Context, actor models.Actor, req models.CreatePaymentRequest) (*ledger.Entry, error)
	ConfirmPayment(ctx context.Context, actor models.Actor, req models.PaymentKeyRequest) (*ledger.Entry, error)
	ConfirmPaymentBatch(ctx context.Context, actor models.Actor, req models.ConfirmBatchRequest) ([]ledger.Entry, error)
	DeletePayment(ctx context.Context, actor models.Actor, pilotID int64, key ledger.Key) error
	PurgePayments(ctx context.Context, actor models.Actor, pilotID int64, status ledger.Status) (int64, error)
}

// Options carries the collaborators and settings of DefaultService
type Options struct {
	JWTSecret    string
	TokenTTL     time.Duration
	IsAdminEmail func(email string) bool // grants the admin role at signup
	Pricing      ledger.Pricing
	StartYear    int
	Location     *time.Location
	Merchant     pix.Merchant
	QRSize       int
	Publisher    events.Publisher
	Logger       *utils.Logger
	Clock        func() time.Time // overrides time.Now in tests
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo          repository.Repository
	jwtSecret     []byte
	tokenDuration time.Duration
	isAdminEmail  func(string) bool
	pricing       ledger.Pricing
	startYear     int
	location      *time.Location
	merchant      pix.Merchant
	qrSize        int
	publisher     events.Publisher
	logger        *utils.Logger
	clock         func() time.Time
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(repo repository.Repository, opts Options) Service {
	s := &DefaultService{
		repo:          repo,
		jwtSecret:     []byte(opts.JWTSecret),
		tokenDuration: opts.TokenTTL,
		isAdminEmail:  opts.IsAdminEmail,
		pricing:       opts.Pricing,
		startYear:     opts.StartYear,
		location:      opts.Location,
		merchant:      opts.Merchant,
		qrSize:        opts.QRSize,
		publisher:     opts.Publisher,
		logger:        opts.Logger,
		clock:         opts.Clock,
	}
	if s.tokenDuration == 0 {
		s.tokenDuration = 24 * time.Hour
	}
	if s.pricing.MonthlyRate.IsZero() {
		s.pricing = ledger.DefaultPricing()
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.qrSize == 0 {
		s.qrSize = 200
	}
	if s.publisher == nil {
		s.publisher = events.NoopPublisher{}
	}
	if s.logger == nil {
		s.logger = utils.NewNopLogger()
	}
	s.logger = s.logger.Named("service")
	if s.isAdminEmail == nil {
		s.isAdminEmail = func(string) bool { return false }
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

func (s *DefaultService) now() time.Time {
	return s.clock().In(s.location)
}

// Authentication methods
func (s *DefaultService) SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error) {
	existingUser, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("error checking user existence: %w", err)
	}

	if existingUser != nil {
		return nil, ErrEmailTaken
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{
		ID:       uuid.New().String(),
		Email:    strings.TrimSpace(req.Email),
		Name:     strings.TrimSpace(req.Name),
		Password: string(hashedPassword),
		Role:     models.RolePilot,
		Status:   ledger.PilotPending,
	}
	if s.isAdminEmail(user.Email) {
		user.Role = models.RoleAdmin
		user.Status = ledger.PilotAffiliated
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	return &models.AuthResponse{
		Status:  "success",
		UserID:  user.ID,
		PilotID: user.PilotID,
		Email:   user.Email,
		Name:    user.Name,
		Role:    user.Role,
	}, nil
}

func (s *DefaultService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}

	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.generateJWT(user)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	return &models.AuthResponse{
		Status:    "success",
		UserID:    user.ID,
		PilotID:   user.PilotID,
		Role:      user.Role,
		Token:     token,
		ExpiresIn: int(s.tokenDuration.Seconds()),
	}, nil
}

func (s *DefaultService) Me(ctx context.Context, actor models.Actor) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Pilot methods
func (s *DefaultService) GetPilot(ctx context.Context, actor models.Actor, pilotID int64) (*models.User, error) {
	if !actor.CanAccess(pilotID) {
		return nil, ErrForbidden
	}
	return s.loadPilot(ctx, pilotID)
}

func (s *DefaultService) UpdatePilotStatus(
	ctx context.Context,
	actor models.Actor,
	pilotID int64,
	req models.UpdatePilotStatusRequest,
) (*models.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrAdminOnly
	}

	status, err := ledger.ParsePilotStatus(req.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if _, err := s.loadPilot(ctx, pilotID); err != nil {
		return nil, err
	}

	if err := s.repo.UpdatePilotStatus(ctx, pilotID, status); err != nil {
		return nil, fmt.Errorf("error updating pilot status: %w", err)
	}

	s.logger.Info("pilot status updated",
		zap.Int64("pilot_id", pilotID),
		zap.String("status", string(status)),
		zap.String("actor", actor.UserID))

	return s.loadPilot(ctx, pilotID)
}

// Ledger reads
func (s *DefaultService) ListPayments(
	ctx context.Context,
	actor models.Actor,
	pilotID int64,
	filter ledger.YearFilter,
) ([]ledger.Entry, error) {
	if !actor.CanAccess(pilotID) {
		return nil, ErrForbidden
	}
	if _, err := s.loadPilot(ctx, pilotID); err != nil {
		return nil, err
	}
	return s.loadEntries(ctx, pilotID, filter)
}

func (s *DefaultService) LedgerView(
	ctx context.Context,
	actor models.Actor,
	pilotID int64,
	filter ledger.YearFilter,
) (*ledger.View, error) {
	view, _, err := s.buildView(ctx, actor, pilotID, filter)
	return view, err
}

func (s *DefaultService) buildView(
	ctx context.Context,
	actor models.Actor,
	pilotID int64,
	filter ledger.YearFilter,
) (*ledger.View, *models.User, error) {
	if !actor.CanAccess(pilotID) {
		return nil, nil, ErrForbidden
	}
	pilot, err := s.loadPilot(ctx, pilotID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.IsAdmin() && pilot.Status != ledger.PilotAffiliated {
		return nil, nil, ErrPilotNotAffiliated
	}

	entries, err := s.loadEntries(ctx, pilotID, filter)
	if err != nil {
		return nil, nil, err
	}

	// available years need every year on record, not just the filtered one
	all := entries
	if !filter.All {
		if all, err = s.loadEntries(ctx, pilotID, ledger.AllYears); err != nil {
			return nil, nil, err
		}
	}

	view := ledger.BuildView(entries, filter, pilotID, ledger.ViewOptions{
		Pricing:   s.pricing,
		StartYear: s.startYear,
		Now:       s.now(),
	})
	view.AvailableYears = ledger.AvailableYears(all, s.startYear, s.now().Year())
	return &view, pilot, nil
}

func (s *DefaultService) PixQuote(
	ctx context.Context,
	actor models.Actor,
	pilotID int64,
	plan ledger.PlanType,
	filter ledger.YearFilter,
) (*models.PixQuoteResponse, error) {
	if !actor.CanAccess(pilotID) {
		return nil, ErrForbidden
	}
	if !plan.Valid() {
		return nil, fmt.Errorf("%w: unknown plan %q", ErrInvalidInput, plan)
	}
	if _, err := s.loadPilot(ctx, pilotID); err != nil {
		return nil, err
	}

	now := s.now()
	year := filter.TargetYear(now.Year())
	yearFilter := ledger.ForYear(year)
	entries, err := s.loadEntries(ctx, pilotID, yearFilter)
	if err != nil {
		return nil, err
	}
	summary := ledger.Summarize(ledger.FillYear(entries, yearFilter, pilotID), yearFilter)

	months, err := ledger.NoticeMonths(s.pricing, plan, summary.TotalMissingMonths, year)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	quote := s.pricing.Quote(plan, now)
	payload, err := pix.Payload(s.merchant, pix.Charge{
		Amount: quote.FinalAmount,
		TxID:   fmt.Sprintf("CPVL%d%d%02d", pilotID, months[0].Year, months[0].Month),
	})
	if err != nil {
		return nil, fmt.Errorf("error building pix payload: %w", err)
	}

	return &models.PixQuoteResponse{
		Status:      "success",
		PlanType:    plan,
		BaseAmount:  quote.BaseAmount,
		Discount:    quote.Discount,
		FinalAmount: quote.FinalAmount,
		Months:      months,
		Payload:     payload,
	}, nil
}

func (s *DefaultService) PixQRCode(
	ctx context.Context,
	actor models.Actor,
	pilotID int64,
	plan ledger.PlanType,
	filter ledger.YearFilter,
) ([]byte, error) {
	quote, err := s.PixQuote(ctx, actor, pilotID, plan, filter)
	if err != nil {
		return nil, err
	}
	return pix.QRCodePNG(quote.Payload, s.qrSize)
}

func (s *DefaultService) ExportLedger(
	ctx context.Context,
	actor models.Actor,
	pilotID int64,
	filter ledger.YearFilter,
) ([]byte, error) {
	view, pilot, err := s.buildView(ctx, actor, pilotID, filter)
	if err != nil {
		return nil, err
	}

	raw, err := export.LedgerXLSX(exportPilot(pilot), *view)
	metrics.IncExport("xlsx", metrics.Result(err))
	if err != nil {
		return nil, fmt.Errorf("error exporting ledger: %w", err)
	}
	return raw, nil
}

func (s *DefaultService) Receipt(ctx context.Context, actor models.Actor, pilotID int64, key ledger.Key) ([]byte, error) {
	if !actor.CanAccess(pilotID) {
		return nil, ErrForbidden
	}
	pilot, err := s.loadPilot(ctx, pilotID)
	if err != nil {
		return nil, err
	}

	row, err := s.repo.GetPayment(ctx, pilotID, key)
	if err != nil {
		return nil, fmt.Errorf("error getting payment: %w", err)
	}
	if row == nil {
		return nil, ErrPaymentNotFound
	}
	if row.Status != ledger.StatusConfirmed {
		return nil, ErrNotConfirmed
	}

	raw, err := export.ReceiptPDF(exportPilot(pilot), row.Entry(), s.merchant.Name, s.now())
	metrics.IncExport("pdf", metrics.Result(err))
	if err != nil {
		return nil, fmt.Errorf("error rendering receipt: %w", err)
	}
	return raw, nil
}

// Ledger writes
func (s *DefaultService) CreatePayment(
	ctx context.Context,
	actor models.Actor,
	req models.CreatePaymentRequest,
) (*ledger.Entry, error) {
	if !actor.CanAccess(req.PilotID) {
		return nil, ErrForbidden
	}

	key := ledger.Key{Year: int(req.ReferenceYear), Month: req.ReferenceMonth}
	if err := ledger.ValidateKey(key.Year, key.Month); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !req.PlanType.Valid() {
		return nil, fmt.Errorf("%w: unknown plan %q", ErrInvalidInput, req.PlanType)
	}
	if req.Status != "" {
		status, err := ledger.ParseStatus(req.Status)
		if err != nil || status != ledger.StatusToConfirm {
			return nil, fmt.Errorf("%w: notices must be created as %s", ErrInvalidInput, ledger.StatusToConfirm)
		}
	}

	if _, err := s.loadPilot(ctx, req.PilotID); err != nil {
		return nil, err
	}

	now := s.now()
	createdAt := now
	// the client stamps every month of one notice with the same createdAt,
	// which is what the batching engine correlates on
	if req.CreatedAt != nil && !req.CreatedAt.IsZero() && !req.CreatedAt.After(now.Add(time.Minute)) {
		createdAt = *req.CreatedAt
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = ledger.NoticeDescription(req.PlanType)
	}

	row := &models.PaymentMonthly{
		PilotID:        req.PilotID,
		ReferenceYear:  key.Year,
		ReferenceMonth: key.Month,
		Amount:         ledger.NewAmount(s.pricing.PerMonthAmount(req.PlanType, now)),
		PlanType:       req.PlanType,
		Description:    description,
		Status:         ledger.StatusToConfirm,
		CreatedAt:      createdAt.UTC(),
	}

	err := s.repo.UpsertPayment(ctx, row)
	metrics.IncEntryCreated(string(req.PlanType), metrics.Result(err))
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyConfirmed) {
			return nil, ErrAlreadyConfirmed
		}
		return nil, fmt.Errorf("error creating payment: %w", err)
	}

	evt := events.NewPaymentEvent(events.TypePaymentNotice, req.PilotID, []ledger.Key{key})
	evt.PlanType = req.PlanType
	evt.Amount = row.Amount.Decimal
	evt.ActorID = actor.UserID
	s.publish(ctx, evt)

	entry := row.Entry()
	return &entry, nil
}

func (s *DefaultService) ConfirmPayment(
	ctx context.Context,
	actor models.Actor,
	req models.PaymentKeyRequest,
) (*ledger.Entry, error) {
	confirmed, err := s.confirm(ctx, actor, "single", []models.PaymentKeyRequest{req})
	if err != nil {
		return nil, err
	}
	return &confirmed[0], nil
}

func (s *DefaultService) ConfirmPaymentBatch(
	ctx context.Context,
	actor models.Actor,
	req models.ConfirmBatchRequest,
) ([]ledger.Entry, error) {
	if len(req.Payments) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidInput)
	}
	return s.confirm(ctx, actor, "batch", req.Payments)
}

func (s *DefaultService) confirm(
	ctx context.Context,
	actor models.Actor,
	kind string,
	keys []models.PaymentKeyRequest,
) (confirmed []ledger.Entry, err error) {
	defer func() {
		metrics.ObserveConfirmation(kind, metrics.Result(err), len(keys))
	}()

	if !actor.IsAdmin() {
		return nil, ErrAdminOnly
	}

	seenPilots := make(map[int64]bool)
	seenKeys := make(map[models.PaymentKeyRequest]bool)
	rows := make([]models.PaymentMonthly, 0, len(keys))
	for _, k := range keys {
		if err := ledger.ValidateKey(int(k.ReferenceYear), k.ReferenceMonth); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if seenKeys[k] {
			continue
		}
		seenKeys[k] = true
		if !seenPilots[k.PilotID] {
			if _, err := s.loadPilot(ctx, k.PilotID); err != nil {
				return nil, err
			}
			seenPilots[k.PilotID] = true
		}
		// used only when no entry exists for the month yet
		rows = append(rows, models.PaymentMonthly{
			PilotID:        k.PilotID,
			ReferenceYear:  int(k.ReferenceYear),
			ReferenceMonth: k.ReferenceMonth,
			Amount:         ledger.NewAmount(s.pricing.MonthlyRate),
			PlanType:       ledger.PlanMonthly,
			Description:    "manual confirmation",
		})
	}

	out, err := s.repo.ConfirmPayments(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("error confirming payments: %w", err)
	}

	byPilot := make(map[int64][]ledger.Key)
	total := make(map[int64]decimal.Decimal)
	for _, row := range out {
		byPilot[row.PilotID] = append(byPilot[row.PilotID], row.Key())
		total[row.PilotID] = total[row.PilotID].Add(row.Amount.Decimal)
	}
	for pilotID, pilotKeys := range byPilot {
		evt := events.NewPaymentEvent(events.TypePaymentConfirmed, pilotID, pilotKeys)
		evt.Amount = total[pilotID]
		evt.ActorID = actor.UserID
		s.publish(ctx, evt)
	}

	s.logger.Info("payments confirmed",
		zap.String("kind", kind),
		zap.Int("count", len(out)),
		zap.String("actor", actor.UserID))

	return models.Entries(out), nil
}

func (s *DefaultService) DeletePayment(ctx context.Context, actor models.Actor, pilotID int64, key ledger.Key) error {
	if !actor.IsAdmin() {
		return ErrAdminOnly
	}
	if err := ledger.ValidateKey(key.Year, key.Month); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	deleted, err := s.repo.DeletePayment(ctx, pilotID, key)
	if err != nil {
		return fmt.Errorf("error deleting payment: %w", err)
	}
	if !deleted {
		return ErrPaymentNotFound
	}

	s.logger.Info("payment deleted",
		zap.Int64("pilot_id", pilotID),
		zap.Stringer("key", key),
		zap.String("actor", actor.UserID))
	return nil
}

func (s *DefaultService) PurgePayments(
	ctx context.Context,
	actor models.Actor,
	pilotID int64,
	status ledger.Status,
) (int64, error) {
	if !actor.IsAdmin() {
		return 0, ErrAdminOnly
	}
	if status == ledger.StatusConfirmed {
		return 0, fmt.Errorf("%w: confirmed entries cannot be purged", ErrInvalidInput)
	}
	if _, err := s.loadPilot(ctx, pilotID); err != nil {
		return 0, err
	}

	n, err := s.repo.DeletePaymentsByStatus(ctx, pilotID, status)
	if err != nil {
		return 0, fmt.Errorf("error purging payments: %w", err)
	}
	metrics.AddPurged(n)

	if n > 0 {
		evt := events.NewPaymentEvent(events.TypePaymentsPurged, pilotID, nil)
		evt.ActorID = actor.UserID
		s.publish(ctx, evt)
	}
	return n, nil
}

// Helper methods
func (s *DefaultService) loadPilot(ctx context.Context, pilotID int64) (*models.User, error) {
	pilot, err := s.repo.GetUserByPilotID(ctx, pilotID)
	if err != nil {
		return nil, fmt.Errorf("error getting pilot: %w", err)
	}
	if pilot == nil {
		return nil, ErrPilotNotFound
	}
	return pilot, nil
}

func (s *DefaultService) loadEntries(ctx context.Context, pilotID int64, filter ledger.YearFilter) ([]ledger.Entry, error) {
	rows, err := s.repo.ListPayments(ctx, pilotID, filter)
	if err != nil {
		return nil, fmt.Errorf("error listing payments: %w", err)
	}
	return models.Entries(rows), nil
}

func (s *DefaultService) publish(ctx context.Context, evt *events.PaymentEvent) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		metrics.IncEventFailure(evt.Type)
		s.logger.Warn("error publishing payment event",
			zap.String("type", evt.Type),
			zap.Int64("pilot_id", evt.PilotID),
			zap.Error(err))
	}
}

func (s *DefaultService) generateJWT(user *models.User) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"sub":     user.ID, // subject
		"pilotId": user.PilotID,
		"role":    user.Role,
		"exp":     now.Add(s.tokenDuration).Unix(),
		"iat":     now.Unix(), // issued at
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func exportPilot(u *models.User) export.Pilot {
	return export.Pilot{PilotID: u.PilotID, Name: u.Name, Email: u.Email}
}
