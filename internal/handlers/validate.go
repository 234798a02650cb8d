package handlers

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/PratikDhanave/event-ingestion-service/internal/apperr"
	"github.com/PratikDhanave/event-ingestion-service/internal/models"
)

var jsonNamesOnce sync.Once

// useJSONFieldNames makes validation errors name fields as clients send
// them ("tool_name") rather than as Go spells them ("ToolName").
func useJSONFieldNames() {
	jsonNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			switch name {
			case "-":
				return ""
			case "":
				return f.Name
			}
			return name
		})
	})
}

// validateStruct runs the binding rules on obj. Failures carry the catalog
// message plus the offending field path and rule; validator text, which
// names Go types, is kept only as the cause.
func validateStruct(obj any) error {
	err := binding.Validator.ValidateStruct(obj)
	if err == nil {
		return nil
	}

	e := apperr.Wrap(apperr.CodeInvalidPayload, "", err)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Namespace()
		// drop the root type name: "ToolIngestRequest.tools[0].tool_name"
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		e = e.WithMetadata("field", field).WithMetadata("rule", fe.Tag())
	}
	return e
}

// validateEvent applies the binding rules, then the event semantics whose
// messages are written for clients.
func validateEvent(in *models.EventInput) error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if err := in.Validate(); err != nil {
		return apperr.Wrap(apperr.CodeInvalidPayload, err.Error(), err)
	}
	return nil
}
