package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	offerhandler "ridepool/internal/offer-service/handler"
	offermessaging "ridepool/internal/offer-service/infrastructure/messaging"
	"ridepool/internal/offer-service/infrastructure/presence"
	offerrepo "ridepool/internal/offer-service/infrastructure/repository"
	"ridepool/internal/offer-service/registry"
	offerservice "ridepool/internal/offer-service/service"
	"ridepool/internal/trip-service/consumer"
	triphandler "ridepool/internal/trip-service/handler"
	"ridepool/internal/trip-service/infrastructure/messaging"
	"ridepool/internal/trip-service/infrastructure/repository"
	tripservice "ridepool/internal/trip-service/service"
	"ridepool/pkg/auth"
	"ridepool/pkg/config"
	"ridepool/pkg/db"
	"ridepool/pkg/logger"
	"ridepool/pkg/rabbitmq"
	"ridepool/pkg/ratelimit"
	"ridepool/pkg/websocket"
)

func main() {
	log := logger.NewLogger("trip-service")

	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Error("config_load", err)
		os.Exit(1)
	}

	pool, err := db.NewConnection(cfg, log)
	if err != nil {
		log.Error("db_connect", err)
		os.Exit(1)
	}
	defer pool.Close()

	rabbit, err := rabbitmq.NewConnection(cfg, log)
	if err != nil {
		log.Error("rabbitmq_connect", err)
		os.Exit(1)
	}
	defer rabbit.Close()

	if err := rabbit.SetupTopology(); err != nil {
		log.Error("rabbitmq_topology", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, 24*time.Hour)

	// Websocket managers, one per audience.
	passengerManager := websocket.NewManager(log)
	driverManager := websocket.NewManager(log)

	driverPresence := presence.NewRedisPresence(redisClient)

	// Trip side: ledger, use cases, event fan-out.
	ledger := repository.NewPostgresLedger(pool, log)
	tripPublisher := messaging.NewRabbitMQPublisher(rabbit, log)

	createTrip := tripservice.NewCreateTripUseCase(ledger, tripPublisher, log)
	bookSeats := tripservice.NewBookSeatsUseCase(ledger, tripPublisher, log)
	cancelBooking := tripservice.NewCancelBookingUseCase(ledger, tripPublisher, log)
	finishTrip := tripservice.NewFinishTripUseCase(ledger, tripPublisher, log)

	// Offer side: claim registry, acceptance transaction, audit trail.
	audit := offerrepo.NewPostgresAudit(pool)
	claimRegistry := registry.New(audit, log)
	defer claimRegistry.Close()

	assignment := offerrepo.NewPostgresAssignment(pool, log)
	offerPublisher := offermessaging.NewRabbitMQPublisher(rabbit, log)
	offerWindow := time.Duration(cfg.Offer.TimeoutSeconds) * time.Second

	offerTrip := offerservice.NewOfferTripUseCase(
		claimRegistry, audit, driverPresence, ledger, offerPublisher, driverManager, offerWindow, log)
	acceptOffer := offerservice.NewAcceptOfferUseCase(
		claimRegistry, assignment, audit, driverPresence, offerPublisher, tripPublisher, passengerManager, log)
	declineOffer := offerservice.NewDeclineOfferUseCase(claimRegistry, offerPublisher, log)

	bookingLimiter := ratelimit.NewMemoryLimiter(time.Second, 5)
	defer bookingLimiter.Stop()

	tripHandler := triphandler.NewHTTPHandler(
		createTrip, bookSeats, cancelBooking, finishTrip, ledger, bookingLimiter, log)
	offerHandler := offerhandler.NewHTTPHandler(
		offerTrip, acceptOffer, declineOffer, claimRegistry, driverPresence, log)

	// Driver sockets mark presence on connect and clear it on
	// disconnect; an open socket is what makes a driver dispatchable.
	driverWS := websocket.NewHandler(log, jwtManager, func(conn *websocket.Connection) {
		driverID := conn.Claims.UserID
		driverManager.AddConnection(driverID, conn)
		if err := driverPresence.SetAvailable(context.Background(), driverID); err != nil {
			log.Error("presence_on_connect", err)
		}
		conn.ReadPump(func(int, []byte) {}, func() {
			driverManager.RemoveConnection(driverID)
			if err := driverPresence.SetUnavailable(context.Background(), driverID); err != nil {
				log.Error("presence_on_disconnect", err)
			}
		})
	}, auth.RoleDriver)

	passengerWS := websocket.NewHandler(log, jwtManager, func(conn *websocket.Connection) {
		userID := conn.Claims.UserID
		passengerManager.AddConnection(userID, conn)
		conn.ReadPump(func(int, []byte) {}, func() {
			passengerManager.RemoveConnection(userID)
		})
	}, auth.RolePassenger)

	events := consumer.NewMessageConsumer(rabbit, log, passengerManager, driverManager)
	if err := events.Start(); err != nil {
		log.Error("consumer_start", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	authed := jwtManager.AuthMiddleware

	mux.Handle("POST /api/trips", authed(http.HandlerFunc(tripHandler.CreateTrip)))
	mux.Handle("GET /api/trips/{id}", authed(http.HandlerFunc(tripHandler.GetTrip)))
	mux.Handle("GET /api/trips/{id}/bookings", authed(http.HandlerFunc(tripHandler.ListTripBookings)))
	mux.Handle("POST /api/trips/{id}/bookings", authed(http.HandlerFunc(tripHandler.BookSeats)))
	mux.Handle("POST /api/trips/{id}/bookings/confirm", authed(http.HandlerFunc(tripHandler.ConfirmPendingBookings)))
	mux.Handle("POST /api/trips/{id}/complete", authed(http.HandlerFunc(tripHandler.CompleteTrip)))
	mux.Handle("POST /api/trips/{id}/cancel", authed(http.HandlerFunc(tripHandler.CancelTrip)))
	mux.Handle("DELETE /api/bookings/{id}", authed(http.HandlerFunc(tripHandler.CancelBooking)))

	mux.Handle("POST /api/trips/{id}/offer",
		authed(auth.RequireRole(auth.RoleAdmin, http.HandlerFunc(offerHandler.OfferTrip))))
	mux.Handle("POST /api/trips/{id}/dispatch",
		authed(auth.RequireRole(auth.RoleAdmin, http.HandlerFunc(offerHandler.DispatchTrip))))
	mux.Handle("POST /api/offers/{id}/accept",
		authed(auth.RequireRole(auth.RoleDriver, http.HandlerFunc(offerHandler.AcceptOffer))))
	mux.Handle("POST /api/offers/{id}/decline",
		authed(auth.RequireRole(auth.RoleDriver, http.HandlerFunc(offerHandler.DeclineOffer))))
	mux.Handle("GET /api/offers/active",
		authed(auth.RequireRole(auth.RoleDriver, http.HandlerFunc(offerHandler.ActiveOffer))))
	mux.Handle("POST /api/drivers/online",
		authed(auth.RequireRole(auth.RoleDriver, http.HandlerFunc(offerHandler.GoOnline))))
	mux.Handle("POST /api/drivers/offline",
		authed(auth.RequireRole(auth.RoleDriver, http.HandlerFunc(offerHandler.GoOffline))))

	mux.Handle("/ws/drivers", driverWS)
	mux.Handle("/ws/passengers", passengerWS)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithFields(logger.LogFields{"port": cfg.HTTP.Port}).Info("server_start", "HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server_listen", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server_shutdown", "Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("server_shutdown", err)
	}
}
