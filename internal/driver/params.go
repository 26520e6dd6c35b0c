package driver

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"camnode-go/internal/config"
	"camnode-go/internal/nodemap"
)

// ApplyParameters writes the configured startup parameters to the nodemap
// in order, dispatching on each node's kind. A failing parameter is
// logged and skipped rather than aborting startup, matching how camera
// tooling treats features that are absent on a given model.
func ApplyParameters(nm *nodemap.Nodemap, params []config.Parameter, log zerolog.Logger) {
	for _, p := range params {
		if err := applyParameter(nm, p); err != nil {
			log.Warn().Str("node", p.Name).Str("value", p.Value).Err(err).
				Msg("skipping parameter")
			continue
		}
		log.Debug().Str("node", p.Name).Str("value", p.Value).Msg("parameter applied")
	}
}

func applyParameter(nm *nodemap.Nodemap, p config.Parameter) error {
	kind, ok := nm.Kind(p.Name)
	if !ok {
		return fmt.Errorf("node %q not found", p.Name)
	}
	switch kind {
	case nodemap.KindInteger:
		v, err := strconv.ParseInt(p.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("parse integer: %w", err)
		}
		return nm.SetInteger(p.Name, v)
	case nodemap.KindFloat:
		v, err := strconv.ParseFloat(p.Value, 64)
		if err != nil {
			return fmt.Errorf("parse float: %w", err)
		}
		return nm.SetFloat(p.Name, v)
	case nodemap.KindEnumeration:
		return nm.SetEnumeration(p.Name, p.Value)
	case nodemap.KindBoolean:
		v, err := strconv.ParseBool(p.Value)
		if err != nil {
			return fmt.Errorf("parse boolean: %w", err)
		}
		return nm.SetBoolean(p.Name, v)
	case nodemap.KindString:
		return nm.SetString(p.Name, p.Value)
	case nodemap.KindCommand:
		return nm.Execute(p.Name)
	default:
		return fmt.Errorf("unsupported node kind %s", kind)
	}
}
