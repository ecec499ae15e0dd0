package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-service/internal/booking/authz"
	"booking-service/internal/booking/domain"
	"booking-service/internal/booking/projection"
	"booking-service/internal/booking/publisher"
	"booking-service/internal/booking/repo"
	"booking-service/internal/shared/apperrors"
	"booking-service/internal/shared/util"
)

type sentMessage struct {
	Topic string
	Key   string
	Body  string
}

type recordingBroker struct {
	mu       sync.Mutex
	down     bool
	messages []sentMessage
}

func (b *recordingBroker) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *recordingBroker) Publish(ctx context.Context, exchange, routingKey, key string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errors.New("broker unavailable")
	}
	b.messages = append(b.messages, sentMessage{Topic: routingKey, Key: key, Body: string(body)})
	return nil
}

func (b *recordingBroker) onTopic(topic string) []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentMessage
	for _, m := range b.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (b *recordingBroker) notifications(t *testing.T, request string) []domain.Notification {
	t.Helper()
	var out []domain.Notification
	for _, m := range b.onTopic(domain.TopicNotificationRequests) {
		var n domain.Notification
		require.NoError(t, json.Unmarshal([]byte(m.Body), &n))
		if n.Request == request {
			out = append(out, n)
		}
	}
	return out
}

func (b *recordingBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

const (
	rideID    int64 = 1
	driverID  int64 = 100
	studentID int64 = 7
)

var (
	admin   = authz.Caller{ID: 1, Role: authz.RoleAdmin}
	driver  = authz.Caller{ID: driverID, Role: authz.RoleDriver}
	student = authz.Caller{ID: studentID, Role: authz.RoleStudent}
)

type fixture struct {
	svc    *BookingService
	store  *repo.Memory
	proj   *projection.Store
	broker *recordingBroker
	pub    *publisher.Publisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repo.NewMemory()
	log := util.Discard()
	proj := projection.NewStore(store, log)
	broker := &recordingBroker{}
	pub := publisher.New(broker, store, store, publisher.Config{
		Exchange: "rides_topic",
		Backoff:  util.Backoff{Attempts: 1},
		Timeout:  time.Second,
	}, log)

	f := &fixture{
		svc:    NewBookingService(store, proj, authz.NewGate(), pub, log),
		store:  store,
		proj:   proj,
		broker: broker,
		pub:    pub,
	}

	ctx := context.Background()
	require.NoError(t, f.svc.ApplyRideDetails(ctx, domain.Ride{ID: rideID, DriverID: driverID, BasePrice: 50}))
	require.NoError(t, f.svc.ApplySubZone(ctx, domain.SubZone{Name: "Z1", Price: 10}))
	return f
}

func (f *fixture) request(t *testing.T, caller authz.Caller, payment string) *domain.Request {
	t.Helper()
	req, err := f.svc.CreateRequest(context.Background(), caller, domain.CreateRequestInput{RideID: rideID, SubZoneName: "Z1", PaymentOption: payment})
	require.NoError(t, err)
	return req
}

func (f *fixture) booking(t *testing.T, caller authz.Caller, payment string) *domain.Booking {
	t.Helper()
	req := f.request(t, caller, payment)
	b, err := f.svc.AcceptRequest(context.Background(), driver, req.ID)
	require.NoError(t, err)
	return b
}

func TestCashRequestAcceptedEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request(t, student, "Cash")
	assert.Equal(t, domain.RequestAwaitingCash, req.Status)
	assert.Equal(t, 60.0, req.Price)
	assert.Zero(t, f.broker.count(), "creating a request has no side effect")

	booking, err := f.svc.AcceptRequest(ctx, driver, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPaymentInCash, booking.Status)
	assert.Equal(t, 60.0, booking.Price)
	assert.Equal(t, studentID, booking.StudentID)

	stored, err := f.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestAccepted, stored.Status)

	seats := f.broker.onTopic(domain.TopicSeatReduce)
	require.Len(t, seats, 1)
	assert.JSONEq(t, `{"rideId":"1"}`, seats[0].Body)
	assert.Empty(t, f.broker.onTopic(domain.TopicPaymentDetails))
}

func TestVisaRequestRegistersPayment(t *testing.T) {
	f := newFixture(t)

	req := f.request(t, student, "Visa")
	assert.Equal(t, domain.RequestAwaitingVisa, req.Status)

	booking, err := f.svc.AcceptRequest(context.Background(), driver, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingAwaitingPayment, booking.Status)

	payments := f.broker.onTopic(domain.TopicPaymentDetails)
	require.Len(t, payments, 1)
	var details domain.PaymentDetails
	require.NoError(t, json.Unmarshal([]byte(payments[0].Body), &details))
	assert.Equal(t, domain.PaymentDetails{ID: booking.ID, Price: 60, StudentID: studentID}, details)
	assert.Len(t, f.broker.onTopic(domain.TopicSeatReduce), 1)
}

func TestCreateRequestRules(t *testing.T) {
	ctx := context.Background()

	t.Run("admin may not create", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateRequest(ctx, admin, domain.CreateRequestInput{RideID: rideID, SubZoneName: "Z1"})
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("unknown ride and subzone", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateRequest(ctx, student, domain.CreateRequestInput{RideID: 99, SubZoneName: "Z1"})
		assert.ErrorIs(t, err, domain.ErrRideNotFound)

		_, err = f.svc.CreateRequest(ctx, student, domain.CreateRequestInput{RideID: rideID, SubZoneName: "nowhere"})
		assert.ErrorIs(t, err, domain.ErrSubZoneNotFound)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("driver cannot request own ride", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateRequest(ctx, driver, domain.CreateRequestInput{RideID: rideID, SubZoneName: "Z1"})
		assert.ErrorIs(t, err, domain.ErrIsRideDriver)
	})

	t.Run("other drivers may request", func(t *testing.T) {
		f := newFixture(t)
		req := f.request(t, authz.Caller{ID: 555, Role: authz.RoleDriver}, "")
		assert.Equal(t, domain.RequestAwaitingCash, req.Status)
	})

	t.Run("invalid payment option", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateRequest(ctx, student, domain.CreateRequestInput{RideID: rideID, SubZoneName: "Z1", PaymentOption: "cheque"})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("duplicate active request", func(t *testing.T) {
		f := newFixture(t)
		req := f.request(t, student, "Cash")
		_, err := f.svc.CreateRequest(ctx, student, domain.CreateRequestInput{RideID: rideID, SubZoneName: "Z1"})
		assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
		assert.ErrorIs(t, err, apperrors.ErrConflict)

		_, err = f.svc.RejectRequest(ctx, driver, req.ID)
		require.NoError(t, err)
		f.request(t, student, "Cash")
	})
}

func TestGirlsOnlyRide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.ApplyRideDetails(ctx, domain.Ride{ID: 2, DriverID: driverID, BasePrice: 40, GirlsOnly: true}))

	male := authz.Caller{ID: 20, Role: authz.RoleStudent}
	female := authz.Caller{ID: 21, Role: authz.RoleStudent}
	unknown := authz.Caller{ID: 22, Role: authz.RoleStudent}
	require.NoError(t, f.svc.ApplyUserGender(ctx, male.ID, domain.GenderMale))
	require.NoError(t, f.svc.ApplyUserGender(ctx, female.ID, domain.GenderFemale))

	for _, zone := range []string{"Z1", "missing-zone"} {
		_, err := f.svc.CreateRequest(ctx, male, domain.CreateRequestInput{RideID: 2, SubZoneName: zone})
		assert.ErrorIs(t, err, domain.ErrGirlsOnly, zone)
		assert.ErrorIs(t, err, apperrors.ErrForbidden, zone)
	}

	_, err := f.svc.CreateRequest(ctx, unknown, domain.CreateRequestInput{RideID: 2, SubZoneName: "Z1"})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	req, err := f.svc.CreateRequest(ctx, female, domain.CreateRequestInput{RideID: 2, SubZoneName: "Z1"})
	require.NoError(t, err)
	assert.Equal(t, 50.0, req.Price)

	_, err = f.svc.CreateRequest(ctx, male, domain.CreateRequestInput{RideID: rideID, SubZoneName: "Z1"})
	assert.NoError(t, err, "gender only matters on girls-only rides")
}

func TestAcceptRequestRules(t *testing.T) {
	ctx := context.Background()

	t.Run("accepting twice conflicts", func(t *testing.T) {
		f := newFixture(t)
		req := f.request(t, student, "Cash")
		_, err := f.svc.AcceptRequest(ctx, driver, req.ID)
		require.NoError(t, err)

		_, err = f.svc.AcceptRequest(ctx, driver, req.ID)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
		assert.Len(t, f.broker.onTopic(domain.TopicSeatReduce), 1)

		bookings, err := f.store.ListBookings(ctx, domain.ListFilter{})
		require.NoError(t, err)
		assert.Len(t, bookings, 1)
	})

	t.Run("rejected request cannot be accepted", func(t *testing.T) {
		f := newFixture(t)
		req := f.request(t, student, "Cash")
		_, err := f.svc.RejectRequest(ctx, driver, req.ID)
		require.NoError(t, err)

		_, err = f.svc.AcceptRequest(ctx, driver, req.ID)
		assert.ErrorIs(t, err, domain.ErrRequestRejected)
	})

	t.Run("only the ride driver", func(t *testing.T) {
		f := newFixture(t)
		req := f.request(t, student, "Cash")

		_, err := f.svc.AcceptRequest(ctx, authz.Caller{ID: 555, Role: authz.RoleDriver}, req.ID)
		assert.ErrorIs(t, err, domain.ErrNotRideDriver)

		_, err = f.svc.AcceptRequest(ctx, student, req.ID)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

		_, err = f.svc.AcceptRequest(ctx, admin, req.ID)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

		_, err = f.svc.RejectRequest(ctx, authz.Caller{ID: 555, Role: authz.RoleDriver}, req.ID)
		assert.ErrorIs(t, err, domain.ErrNotRideDriver)
	})

	t.Run("missing request", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.AcceptRequest(ctx, driver, 404)
		assert.ErrorIs(t, err, domain.ErrRequestNotFound)
	})
}

func TestTerminalRequestsNeverMove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rejected := f.request(t, authz.Caller{ID: 31, Role: authz.RoleStudent}, "Cash")
	_, err := f.svc.RejectRequest(ctx, driver, rejected.ID)
	require.NoError(t, err)

	owner := authz.Caller{ID: 32, Role: authz.RoleStudent}
	cancelled := f.request(t, owner, "Visa")
	_, err = f.svc.CancelRequest(ctx, owner, cancelled.ID)
	require.NoError(t, err)

	acceptedOwner := authz.Caller{ID: 33, Role: authz.RoleStudent}
	accepted := f.request(t, acceptedOwner, "Cash")
	_, err = f.svc.AcceptRequest(ctx, driver, accepted.ID)
	require.NoError(t, err)

	cases := []struct {
		req   *domain.Request
		owner authz.Caller
		want  domain.RequestStatus
	}{
		{rejected, authz.Caller{ID: 31, Role: authz.RoleStudent}, domain.RequestRejected},
		{cancelled, owner, domain.RequestCancelled},
		{accepted, acceptedOwner, domain.RequestAccepted},
	}
	for _, tc := range cases {
		_, err := f.svc.AcceptRequest(ctx, driver, tc.req.ID)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
		_, err = f.svc.RejectRequest(ctx, driver, tc.req.ID)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
		_, err = f.svc.CancelRequest(ctx, tc.owner, tc.req.ID)
		assert.ErrorIs(t, err, apperrors.ErrConflict)

		stored, err := f.store.GetRequest(ctx, tc.req.ID)
		require.NoError(t, err)
		assert.Equal(t, tc.want, stored.Status)
	}
}

func TestCancelRequestOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.request(t, student, "Cash")

	_, err := f.svc.CancelRequest(ctx, authz.Caller{ID: 8, Role: authz.RoleStudent}, req.ID)
	assert.ErrorIs(t, err, domain.ErrNotRequestOwner)

	_, err = f.svc.CancelRequest(ctx, admin, req.ID)
	assert.ErrorIs(t, err, domain.ErrNotRequestOwner, "admin role alone does not own the request")

	_, err = f.svc.CancelRequest(ctx, student, 404)
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)

	updated, err := f.svc.CancelRequest(ctx, student, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCancelled, updated.Status)
}

func TestCancelBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	booking := f.booking(t, student, "Visa")
	require.NoError(t, f.svc.ApplyBookingPaid(ctx, booking.ID))

	_, err := f.svc.CancelBooking(ctx, authz.Caller{ID: 8, Role: authz.RoleStudent}, booking.ID)
	assert.ErrorIs(t, err, domain.ErrNotBookingOwner)

	_, err = f.svc.CancelBooking(ctx, admin, booking.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	require.NoError(t, f.svc.ApplyNotifyPassengers(ctx, domain.NotifyPassengersEvent{RideID: domain.FlexID(rideID), RideTime: time.Now()}))
	_, err = f.svc.CancelBooking(ctx, student, booking.ID)
	assert.ErrorIs(t, err, domain.ErrRideActiveToday)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	require.NoError(t, f.proj.ClearRideActiveToday(ctx, rideID))

	cancelled, err := f.svc.CancelBooking(ctx, student, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, cancelled.Status)
	assert.Equal(t, booking.Price, cancelled.Price)

	_, err = f.svc.CancelBooking(ctx, student, booking.ID)
	assert.ErrorIs(t, err, domain.ErrBookingClosed)

	assert.Len(t, f.broker.onTopic(domain.TopicSeatIncrease), 1)
	refunds := f.broker.onTopic(domain.TopicRefundRequest)
	require.Len(t, refunds, 1)
	assert.JSONEq(t, `{"bookingId":"`+refunds[0].Key+`"}`, refunds[0].Body)

	notices := f.broker.notifications(t, "Booking Cancelled")
	require.Len(t, notices, 1)
	assert.Equal(t, driverID, notices[0].UserID)
}

func TestBookingPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	booking := f.booking(t, student, "Visa")

	require.NoError(t, f.svc.ApplyBookingPaid(ctx, booking.ID))
	require.NoError(t, f.svc.ApplyBookingPaid(ctx, booking.ID), "redelivery is a no-op")

	stored, err := f.store.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPaid, stored.Status)

	err = f.svc.ApplyBookingPaid(ctx, 404)
	assert.True(t, util.IsPermanent(err))

	require.NoError(t, f.svc.ApplyRideCompleted(ctx, rideID))
	require.NoError(t, f.svc.ApplyBookingPaid(ctx, booking.ID))
	stored, err = f.store.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCompleted, stored.Status, "completed bookings stay completed")
}

func TestNotifyPassengersRemindsPaidOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	paid := f.booking(t, student, "Visa")
	require.NoError(t, f.svc.ApplyBookingPaid(ctx, paid.ID))
	f.booking(t, authz.Caller{ID: 8, Role: authz.RoleStudent}, "Cash")

	rideTime := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	ev := domain.NotifyPassengersEvent{RideID: domain.FlexID(rideID), RideTime: rideTime}
	require.NoError(t, f.svc.ApplyNotifyPassengers(ctx, ev))
	require.NoError(t, f.svc.ApplyNotifyPassengers(ctx, ev))

	reminders := f.broker.notifications(t, "Booking Reminder")
	require.Len(t, reminders, 1)
	assert.Equal(t, studentID, reminders[0].UserID)
	assert.Contains(t, reminders[0].Message, "2024-05-01T08:30:00Z")

	active, err := f.proj.IsRideActiveToday(ctx, rideID)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestRideCancelledNotifiesWithoutChangingStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	paid := f.booking(t, student, "Visa")
	require.NoError(t, f.svc.ApplyBookingPaid(ctx, paid.ID))
	cash := f.booking(t, authz.Caller{ID: 8, Role: authz.RoleStudent}, "Cash")
	awaiting := f.booking(t, authz.Caller{ID: 9, Role: authz.RoleStudent}, "Visa")

	require.NoError(t, f.svc.ApplyRideCancelled(ctx, rideID))
	require.NoError(t, f.svc.ApplyRideCancelled(ctx, rideID))

	notices := f.broker.notifications(t, "Ride Cancelled")
	require.Len(t, notices, 2)
	assert.ElementsMatch(t, []int64{studentID, 8}, []int64{notices[0].UserID, notices[1].UserID})

	for id, want := range map[int64]domain.BookingStatus{
		paid.ID:     domain.BookingPaid,
		cash.ID:     domain.BookingPaymentInCash,
		awaiting.ID: domain.BookingAwaitingPayment,
	} {
		b, err := f.store.GetBooking(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, b.Status)
	}
}

func TestRideCompletedRedelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	paid := f.booking(t, student, "Visa")
	require.NoError(t, f.svc.ApplyBookingPaid(ctx, paid.ID))
	cash := f.booking(t, authz.Caller{ID: 8, Role: authz.RoleStudent}, "Cash")
	require.NoError(t, f.proj.MarkRideActiveToday(ctx, rideID))

	require.NoError(t, f.svc.ApplyRideCompleted(ctx, rideID))
	require.NoError(t, f.svc.ApplyRideCompleted(ctx, rideID))

	for _, b := range []*domain.Booking{paid, cash} {
		stored, err := f.store.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingCompleted, stored.Status)
		assert.Equal(t, b.Price, stored.Price)
	}

	notices := f.broker.notifications(t, "Ride Completed")
	require.Len(t, notices, 1)
	assert.Equal(t, studentID, notices[0].UserID)

	active, err := f.proj.IsRideActiveToday(ctx, rideID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	booking := f.booking(t, student, "Cash")
	f.request(t, authz.Caller{ID: 8, Role: authz.RoleStudent}, "Cash")
	otherDriver := authz.Caller{ID: 555, Role: authz.RoleDriver}

	requests, err := f.svc.FetchAllRequests(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, requests, 2)
	_, err = f.svc.FetchAllRequests(ctx, driver)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	bookings, err := f.svc.FetchAllBookings(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, bookings, 1)

	got, err := f.svc.FetchBooking(ctx, driver, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.ID, got.ID)
	_, err = f.svc.FetchBooking(ctx, otherDriver, booking.ID)
	assert.ErrorIs(t, err, domain.ErrNotRideDriver)
	_, err = f.svc.FetchBooking(ctx, student, booking.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	_, err = f.svc.FetchBooking(ctx, admin, 404)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	req, err := f.svc.FetchRequest(ctx, admin, requests[0].ID)
	require.NoError(t, err)
	assert.Equal(t, requests[0].ID, req.ID)

	forRide, err := f.svc.FetchRequestsForRide(ctx, driver, rideID)
	require.NoError(t, err)
	assert.Len(t, forRide, 2)
	_, err = f.svc.FetchRequestsForRide(ctx, otherDriver, rideID)
	assert.ErrorIs(t, err, domain.ErrNotRideDriver)
	_, err = f.svc.FetchBookingsForRide(ctx, driver, 99)
	assert.ErrorIs(t, err, domain.ErrRideNotFound)

	adminView, err := f.svc.FetchBookingsForRide(ctx, admin, 99)
	require.NoError(t, err)
	assert.Empty(t, adminView)

	mine, err := f.svc.FetchMyRequests(ctx, student)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, studentID, mine[0].StudentID)

	myBookings, err := f.svc.FetchMyBookings(ctx, student)
	require.NoError(t, err)
	assert.Len(t, myBookings, 1)
}

func TestRequestPaymentSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	booking := f.booking(t, student, "Visa")

	require.NoError(t, f.svc.RequestPaymentSend(ctx, driver, booking.ID, 42))
	require.NoError(t, f.svc.RequestPaymentSend(ctx, driver, booking.ID, 0))

	notices := f.broker.notifications(t, "Request Payment")
	require.Len(t, notices, 2)
	assert.Equal(t, int64(42), notices[0].UserID)
	assert.Equal(t, studentID, notices[1].UserID)
	assert.Equal(t, "Please pay the ride", notices[0].Message)

	err := f.svc.RequestPaymentSend(ctx, driver, 404, 1)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestEventHandlers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	handlers := f.svc.EventHandlers()

	for _, topic := range domain.InboundTopics {
		assert.Contains(t, handlers, topic)
	}

	require.NoError(t, handlers[domain.TopicRideDetails](ctx, []byte(`{"id":3,"driverId":4,"basePrice":20,"girlsOnly":false}`)))
	ride, err := f.proj.LookupRide(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), ride.DriverID)

	require.NoError(t, handlers[domain.TopicSubZoneDetails](ctx, []byte(`{"subzoneName":"Z2","subZonePrice":5}`)))
	require.NoError(t, handlers[domain.TopicUserGenderDetails](ctx, []byte(`{"id":"9","gender":"female"}`)))
	gender, err := f.proj.LookupUserGender(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, domain.GenderFemale, gender)

	booking := f.booking(t, student, "Visa")
	require.NoError(t, handlers[domain.TopicBookingPaid](ctx, []byte(`"`+itoa(booking.ID)+`"`)))
	require.NoError(t, handlers[domain.TopicRideCompleted](ctx, []byte(itoa(rideID))))

	for topic, body := range map[string]string{
		domain.TopicRideDetails:       `not json`,
		domain.TopicSubZoneDetails:    `{"subZonePrice":5}`,
		domain.TopicBookingPaid:       `{"id":1}`,
		domain.TopicRideCancelled:     `"x"`,
		domain.TopicUserGenderDetails: `{"id":1}`,
	} {
		err := handlers[topic](ctx, []byte(body))
		assert.True(t, util.IsPermanent(err), topic)
	}
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

// lateReminder answers that the ride is not running today and then lets the
// reminder land before the caller writes.
type lateReminder struct {
	*projection.Store
	store *repo.Memory
}

func (p lateReminder) IsRideActiveToday(ctx context.Context, rideID int64) (bool, error) {
	if err := p.store.MarkRideToday(ctx, rideID); err != nil {
		return false, err
	}
	return false, nil
}

func TestCancelBookingRechecksActiveTodayAtWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	booking := f.booking(t, student, "Cash")

	svc := NewBookingService(f.store, lateReminder{Store: f.proj, store: f.store}, authz.NewGate(), f.pub, util.Discard())
	_, err := svc.CancelBooking(ctx, student, booking.ID)
	assert.ErrorIs(t, err, domain.ErrRideActiveToday)

	stored, err := f.store.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPaymentInCash, stored.Status)
	assert.Empty(t, f.broker.onTopic(domain.TopicSeatIncrease))
	assert.Empty(t, f.broker.onTopic(domain.TopicRefundRequest))
}

// brokenOutbox fails every outbox write.
type brokenOutbox struct {
	*repo.Memory
}

func (brokenOutbox) SaveOutbox(ctx context.Context, entry domain.OutboxEntry) error {
	return errors.New("db down")
}

func TestRideCompletedRetriesLostNotice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	paid := f.booking(t, student, "Visa")
	require.NoError(t, f.svc.ApplyBookingPaid(ctx, paid.ID))

	pub := publisher.New(f.broker, f.store, brokenOutbox{f.store}, publisher.Config{
		Exchange: "rides_topic",
		Backoff:  util.Backoff{Attempts: 1},
		Timeout:  time.Second,
	}, util.Discard())
	svc := NewBookingService(f.store, f.proj, authz.NewGate(), pub, util.Discard())

	f.broker.setDown(true)
	err := svc.ApplyRideCompleted(ctx, rideID)
	require.Error(t, err, "a lost notice fails the delivery so it is retried")

	stored, err := f.store.GetBooking(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCompleted, stored.Status)
	assert.True(t, stored.WasPaid())

	f.broker.setDown(false)
	require.NoError(t, svc.ApplyRideCompleted(ctx, rideID))
	require.NoError(t, svc.ApplyRideCompleted(ctx, rideID))

	notices := f.broker.notifications(t, "Ride Completed")
	require.Len(t, notices, 1)
	assert.Equal(t, studentID, notices[0].UserID)
}
