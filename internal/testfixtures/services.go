package testfixtures

import (
	"io"
	"log/slog"
	"time"

	"github.com/example/mess-attendance/internal/application"
	"github.com/example/mess-attendance/internal/persistence"
	"github.com/example/mess-attendance/internal/qrtoken"
)

// QRSecret is the signing secret used by test services.
const QRSecret = "test-qr-secret-0123456789abcdef"

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithLogger overrides the logger handed to services.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// Runtime returns the shared service runtime backed by the factory clock.
func (f *ServiceFactory) Runtime() application.Runtime {
	return application.Runtime{
		Clock:       f.Clock,
		Location:    Zone,
		IDGenerator: f.IDGenerator.NextFunc(),
		Logger:      f.Logger,
	}
}

// Signer returns a QR signer keyed with QRSecret.
func (f *ServiceFactory) Signer() *qrtoken.Signer {
	signer, err := qrtoken.NewSigner([]byte(QRSecret), "test")
	if err != nil {
		panic(err)
	}
	return signer
}

// Services is the full set of application services wired to one store.
type Services struct {
	Store         persistence.Store
	Schedule      *application.MealScheduleService
	Subscriptions *application.SubscriptionService
	Confirmations *application.ConfirmationService
	Attendance    *application.AttendanceService
	Fines         *application.FineService
	Users         *application.UserService
}

// NewServices wires every service to store.
func (f *ServiceFactory) NewServices(store persistence.Store) *Services {
	rt := f.Runtime()
	schedule := application.NewMealScheduleService(store, rt)
	subscriptions := application.NewSubscriptionService(store, store, rt)
	return &Services{
		Store:         store,
		Schedule:      schedule,
		Subscriptions: subscriptions,
		Confirmations: application.NewConfirmationService(application.ConfirmationDeps{
			Confirmations: store,
			Fines:         store,
			Users:         store,
			Schedule:      schedule,
			Coverage:      subscriptions,
		}, rt),
		Attendance: application.NewAttendanceService(application.AttendanceDeps{
			Signer:        f.Signer(),
			Schedule:      schedule,
			Coverage:      subscriptions,
			Confirmations: store,
			Bookings:      store,
			Users:         store,
		}, rt),
		Fines: application.NewFineService(application.FineDeps{
			Fines:         store,
			Confirmations: store,
			Users:         store,
			Ledger:        store,
			Schedule:      schedule,
		}, rt),
		Users: application.NewUserService(store, rt),
	}
}
