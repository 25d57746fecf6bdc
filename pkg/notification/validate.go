package notification

import (
	"errors"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// messages maps "<json field>.<tag>" to the message surfaced to the caller.
var messages = map[string]string{
	"title.notblank":      "Title is required",
	"title.max":           "Title must be at most 256 characters",
	"body.notblank":       "Notification body is required",
	"body.max":            "Notification body must be at most 2048 characters",
	"payload.size":        "Notification content exceeds the 3584 byte push limit",
	"message.notblank":    "Message is required",
	"imageUrl.abs_url":    "Image URL must start with http:// or https://",
	"link.abs_url":        "Link must start with http:// or https://",
	"clickAction.action":  "Click action must be a valid URL or app path",
	"type.oneof":          "Type must be one of info, success, warning, error",
	"status.oneof":        "Status must be one of draft, published, archived",
	"audience.kind":       "Audience must be one of all, topic, explicit",
	"audience.recipients": "Recipient list must not be empty",
	"patch.empty":         "At least one field must be provided",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("abs_url", func(fl validator.FieldLevel) bool {
		return IsAbsoluteURL(fl.Field().String())
	})
	_ = v.RegisterValidation("action", func(fl validator.FieldLevel) bool {
		return IsClickAction(fl.Field().String())
	})
	return v
}

// IsAbsoluteURL reports whether s is an absolute http(s) URL with a host.
func IsAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsClickAction reports whether s is an absolute http(s) URL or an
// application-relative path beginning with "/".
func IsClickAction(s string) bool {
	if strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "//") {
		return true
	}
	return IsAbsoluteURL(s)
}

// check runs the struct tags of s and folds failures into ve.
func check(s any, ve *ValidationError) {
	err := validate.Struct(s)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		ve.add("_", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		key := fe.Field() + "." + fe.Tag()
		msg, ok := messages[key]
		if !ok {
			msg = fe.Field() + " is invalid"
		}
		ve.add(fe.Field(), msg)
	}
}
