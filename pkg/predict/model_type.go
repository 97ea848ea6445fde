package predict

import (
	"fmt"
	"strings"
)

// ModelType is the closed set of imaging modalities the inference service
// can classify.
type ModelType string

const (
	ModelUltrasound ModelType = "ultrasound"
	ModelXRay       ModelType = "xray"
	ModelMRI        ModelType = "mri"
)

var modelTypes = []ModelType{ModelUltrasound, ModelXRay, ModelMRI}

// ModelTypes returns every supported model type.
func ModelTypes() []ModelType {
	out := make([]ModelType, len(modelTypes))
	copy(out, modelTypes)
	return out
}

// APIName is the model_type query value understood by the inference endpoint.
func (m ModelType) APIName() string {
	switch m {
	case ModelUltrasound:
		return "breast_cancer"
	case ModelXRay:
		return "bone_fracture"
	case ModelMRI:
		return "brain_tumor"
	default:
		return ""
	}
}

// Label is the human readable name shown next to a result.
func (m ModelType) Label() string {
	switch m {
	case ModelUltrasound:
		return "Breast Cancer Detection"
	case ModelXRay:
		return "Bone Fracture Detection"
	case ModelMRI:
		return "Brain Tumor Detection"
	default:
		return string(m)
	}
}

func (m ModelType) Valid() bool {
	return m.APIName() != ""
}

// ParseModelType accepts either the modality name ("xray") or the inference
// API name ("bone_fracture").
func ParseModelType(raw string) (ModelType, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	for _, m := range modelTypes {
		if v == string(m) || v == m.APIName() {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModelType, raw)
}
