package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/waggleapp/backend/internal/config"
	boostsvc "github.com/waggleapp/backend/internal/services/boost"
	complsvc "github.com/waggleapp/backend/internal/services/compliments"
	connsvc "github.com/waggleapp/backend/internal/services/connections"
	conssvc "github.com/waggleapp/backend/internal/services/consumables"
	entsvc "github.com/waggleapp/backend/internal/services/entitlements"
	feedsvc "github.com/waggleapp/backend/internal/services/feed"
	swipesvc "github.com/waggleapp/backend/internal/services/swipes"
	"github.com/waggleapp/backend/internal/transport/http/handlers"
)

type Dependencies struct {
	SwipeService       *swipesvc.Service
	ComplimentService  *complsvc.Service
	ConnectionService  *connsvc.Service
	ConsumableService  *conssvc.Service
	EntitlementService *entsvc.Service
	BoostService       *boostsvc.Service
	FeedService        *feedsvc.Service
	Logger             *zap.Logger
	Config             config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	swipeHandler := handlers.NewSwipeHandler(deps.SwipeService)
	chatRequestHandler := handlers.NewChatRequestHandler(deps.ComplimentService)
	connectionsHandler := handlers.NewConnectionsHandler(deps.ConnectionService)
	consumablesHandler := handlers.NewConsumablesHandler(deps.ConsumableService)
	subscriptionHandler := handlers.NewSubscriptionHandler(deps.EntitlementService)
	boostHandler := handlers.NewBoostHandler(deps.BoostService)
	feedHandler := handlers.NewFeedHandler(deps.FeedService)

	r.Get("/healthz", healthHandler.Get)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/swipes", swipeHandler.Handle)
		r.Post("/chat-requests", chatRequestHandler.Handle)
		r.Get("/feed", feedHandler.Handle)
		r.Get("/connections/pending", connectionsHandler.ListPending)
		r.Post("/connections/{otherId}/resolve", connectionsHandler.Resolve)
		r.Get("/consumables", consumablesHandler.GetMine)
		r.Post("/consumables/purchase", consumablesHandler.Purchase)
		r.Post("/boost", boostHandler.Start)
		r.Get("/boost/status", boostHandler.Status)
		r.Get("/subscription", subscriptionHandler.Get)
		r.Post("/subscription/plus", subscriptionHandler.PurchasePlus)
		r.Delete("/subscription", subscriptionHandler.Cancel)
	})
}
