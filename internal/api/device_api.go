package api

import (
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	pnotify "github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// DeviceAPI lets an authenticated user register the devices that broadcasts
// and topic sends resolve to.
type DeviceAPI struct {
	Registry dispatch.Registry
	Logger   *slog.Logger
}

func NewDeviceAPI(registry dispatch.Registry, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Registry: registry,
		Logger:   logger.With("component", "DeviceAPI"),
	}
}

// --- DOOR A: Mobile (FCM / APNs) ---

type RegisterTokenRequest struct {
	Token  string   `json:"token"`
	Topics []string `json:"topics,omitempty"`
}

// RegisterToken handles PUT /devices/{platform} for fcm and apns tokens.
func (api *DeviceAPI) RegisterToken(w http.ResponseWriter, r *http.Request) {
	user, ok := api.user(w, r)
	if !ok {
		return
	}
	platform, ok := tokenPlatform(w, r)
	if !ok {
		return
	}

	var req RegisterTokenRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	device := dispatch.Device{Recipient: notification.NewRecipientID(platform, req.Token), Topics: req.Topics}
	if err := api.Registry.Register(r.Context(), user, device); err != nil {
		api.Logger.Error("Failed to register device", "platform", platform, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnregisterToken is idempotent: storage failures are logged, not returned.
func (api *DeviceAPI) UnregisterToken(w http.ResponseWriter, r *http.Request) {
	user, ok := api.user(w, r)
	if !ok {
		return
	}
	platform, ok := tokenPlatform(w, r)
	if !ok {
		return
	}

	var req RegisterTokenRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := api.Registry.Unregister(r.Context(), user, notification.NewRecipientID(platform, req.Token)); err != nil {
		api.Logger.Warn("Failed to unregister device", "platform", platform, "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- DOOR B: Web (VAPID) ---

type RegisterWebRequest struct {
	pnotify.WebPushSubscription
	Topics []string `json:"topics,omitempty"`
}

func (api *DeviceAPI) RegisterWeb(w http.ResponseWriter, r *http.Request) {
	user, ok := api.user(w, r)
	if !ok {
		return
	}

	var req RegisterWebRequest
	if !decode(w, r, &req) {
		return
	}
	sub := req.WebPushSubscription
	if sub.Endpoint == "" || len(sub.Keys.P256dh) == 0 || len(sub.Keys.Auth) == 0 {
		api.Logger.Warn("Rejected web subscription", "reason", "missing fields")
		response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
		return
	}
	if !notification.IsAbsoluteURL(sub.Endpoint) {
		response.WriteJSONError(w, http.StatusBadRequest, "endpoint must be an absolute URL")
		return
	}

	device := dispatch.Device{
		Recipient: notification.NewRecipientID(notification.PlatformWeb, sub.Endpoint),
		Web:       &dispatch.WebSubscription{Endpoint: sub.Endpoint, P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		Topics:    req.Topics,
	}
	if err := api.Registry.Register(r.Context(), user, device); err != nil {
		api.Logger.Error("Failed to register web subscription", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Web subscription registered", "user", user, "endpoint", sub.Endpoint)
	w.WriteHeader(http.StatusNoContent)
}

type UnregisterWebRequest struct {
	Endpoint string `json:"endpoint"`
}

func (api *DeviceAPI) UnregisterWeb(w http.ResponseWriter, r *http.Request) {
	user, ok := api.user(w, r)
	if !ok {
		return
	}

	var req UnregisterWebRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing endpoint")
		return
	}

	if err := api.Registry.Unregister(r.Context(), user, notification.NewRecipientID(notification.PlatformWeb, req.Endpoint)); err != nil {
		api.Logger.Warn("Failed to unregister web subscription", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister web")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *DeviceAPI) user(w http.ResponseWriter, r *http.Request) (user urn.URN, ok bool) {
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return user, false
	}
	user, err := urn.Parse(userID)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid user")
		return user, false
	}
	return user, true
}

func tokenPlatform(w http.ResponseWriter, r *http.Request) (notification.Platform, bool) {
	switch p := notification.Platform(r.PathValue("platform")); p {
	case notification.PlatformFCM, notification.PlatformAPNS:
		return p, true
	default:
		response.WriteJSONError(w, http.StatusNotFound, "unknown platform")
		return "", false
	}
}
