package protocol

import (
	"errors"
	"fmt"
)

// Model identifies one earbuds hardware generation.
type Model int

const (
	ModelUnknown Model = iota
	ModelBuds
	ModelBudsPlus
	ModelBudsLive
	ModelBudsPro
)

var modelNames = map[Model]string{
	ModelUnknown:  "unknown",
	ModelBuds:     "buds",
	ModelBudsPlus: "buds-plus",
	ModelBudsLive: "buds-live",
	ModelBudsPro:  "buds-pro",
}

func (m Model) String() string {
	if name, ok := modelNames[m]; ok {
		return name
	}
	return fmt.Sprintf("model(%d)", int(m))
}

// AllModels is the enumeration order used for firmware signature matching.
// First match wins, so the order is part of the contract.
func AllModels() []Model {
	return []Model{ModelBuds, ModelBudsPlus, ModelBudsLive, ModelBudsPro}
}

// Profile selects between the primary SPP protocol and the alternative
// secondary protocol (distinct service UUID, distinct frame markers).
type Profile int

const (
	ProfileStandard Profile = iota
	ProfileAlternative
)

func (p Profile) String() string {
	if p == ProfileAlternative {
		return "alternative"
	}
	return "standard"
}

// Frame marker bytes per profile.
const (
	SOMStandard    byte = 0xFE
	EOMStandard    byte = 0xEE
	SOMAlternative byte = 0xFD
	EOMAlternative byte = 0xDD
)

// DeviceSpec carries the per-model wire constants. Specs are looked up by
// model and never mutated.
type DeviceSpec struct {
	Model        Model
	Codename     string
	LegacyHeader bool
	ServiceUUID  string
	AltUUID      string

	StartOfMessage byte
	EndOfMessage   byte

	// FirmwareSignatures are byte patterns searched for in a firmware image
	// to detect its target model.
	FirmwareSignatures [][]byte
}

var specs = map[Model]DeviceSpec{
	ModelBuds: {
		Model:              ModelBuds,
		Codename:           "R170",
		LegacyHeader:       true,
		ServiceUUID:        "e8bc3c27-04f0-4d37-8034-19e2b8ed1e65",
		AltUUID:            "e8bc3c28-04f0-4d37-8034-19e2b8ed1e65",
		StartOfMessage:     SOMStandard,
		EndOfMessage:       EOMStandard,
		FirmwareSignatures: [][]byte{[]byte("R170XX"), []byte("R170_FOTA")},
	},
	ModelBudsPlus: {
		Model:              ModelBudsPlus,
		Codename:           "R175",
		ServiceUUID:        "e8bc3c27-04f0-4d37-8034-19e2b8ed1e66",
		AltUUID:            "e8bc3c28-04f0-4d37-8034-19e2b8ed1e66",
		StartOfMessage:     SOMStandard,
		EndOfMessage:       EOMStandard,
		FirmwareSignatures: [][]byte{[]byte("R175XX"), []byte("R175_FOTA")},
	},
	ModelBudsLive: {
		Model:              ModelBudsLive,
		Codename:           "R180",
		ServiceUUID:        "e8bc3c27-04f0-4d37-8034-19e2b8ed1e67",
		AltUUID:            "e8bc3c28-04f0-4d37-8034-19e2b8ed1e67",
		StartOfMessage:     SOMStandard,
		EndOfMessage:       EOMStandard,
		FirmwareSignatures: [][]byte{[]byte("R180XX"), []byte("R180_FOTA")},
	},
	ModelBudsPro: {
		Model:              ModelBudsPro,
		Codename:           "R190",
		ServiceUUID:        "e8bc3c27-04f0-4d37-8034-19e2b8ed1e68",
		AltUUID:            "e8bc3c28-04f0-4d37-8034-19e2b8ed1e68",
		StartOfMessage:     SOMStandard,
		EndOfMessage:       EOMStandard,
		FirmwareSignatures: [][]byte{[]byte("R190XX"), []byte("R190_FOTA")},
	},
}

var ErrUnknownModel = errors.New("protocol: unknown model")

// SpecFor resolves the device spec for a model under the given profile.
// The alternative profile swaps the frame markers and service UUID but keeps
// everything else from the model spec.
func SpecFor(model Model, profile Profile) (DeviceSpec, error) {
	spec, ok := specs[model]
	if !ok {
		return DeviceSpec{}, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	if profile == ProfileAlternative {
		spec.StartOfMessage = SOMAlternative
		spec.EndOfMessage = EOMAlternative
		spec.ServiceUUID = spec.AltUUID
	}
	return spec, nil
}

// ModelByCodename resolves a model from its build codename (e.g. "R175").
func ModelByCodename(codename string) (Model, bool) {
	for _, m := range AllModels() {
		if specs[m].Codename == codename {
			return m, true
		}
	}
	return ModelUnknown, false
}
