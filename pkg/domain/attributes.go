package domain

// FieldMapping maps a term of the target standard to a value or source field.
type FieldMapping struct {
	Term  string `json:"term" yaml:"term" validate:"required"`
	Value string `json:"value" yaml:"value"`
}

type MappingAttributes struct {
	Name               string         `json:"name" yaml:"name" validate:"required"`
	Description        string         `json:"description,omitempty" yaml:"description"`
	SourceDataStandard string         `json:"sourceDataStandard" yaml:"sourceDataStandard" validate:"required,oneof=dwc abcd abcdefg"`
	DefaultMapping     []FieldMapping `json:"defaultMapping,omitempty" yaml:"defaultMapping" validate:"dive"`
	FieldMapping       []FieldMapping `json:"fieldMapping,omitempty" yaml:"fieldMapping" validate:"dive"`
}

func (*MappingAttributes) Kind() Kind { return Mapping }

type TranslatorKind string

const (
	BioCASe TranslatorKind = "biocase"
	DwCA    TranslatorKind = "dwca"
)

type ConnectorAttributes struct {
	Name           string         `json:"name" yaml:"name" validate:"required"`
	Description    string         `json:"description,omitempty" yaml:"description"`
	Endpoint       string         `json:"endpoint" yaml:"endpoint" validate:"required,url"`
	TranslatorKind TranslatorKind `json:"translatorKind" yaml:"translatorKind" validate:"required,oneof=biocase dwca"`
	MappingID      string         `json:"mappingId" yaml:"mappingId" validate:"required"`

	// Schedule is a cron expression for recurring harvests.
	Schedule string `json:"schedule,omitempty" yaml:"schedule"`
	MaxItems *int   `json:"maxItems,omitempty" yaml:"maxItems" validate:"omitempty,gt=0"`

	// Filters is a set: order is irrelevant.
	Filters []string `json:"filters,omitempty" yaml:"filters"`
}

func (*ConnectorAttributes) Kind() Kind { return Connector }

type EnvVar struct {
	Name  string `json:"name" yaml:"name" validate:"required"`
	Value string `json:"value" yaml:"value"`
}

// SecretRef points to a key of a kubernetes secret exposed as an environment variable.
type SecretRef struct {
	Name       string `json:"name" yaml:"name" validate:"required"`
	SecretName string `json:"secretName" yaml:"secretName" validate:"required"`
	SecretKey  string `json:"secretKey" yaml:"secretKey" validate:"required"`
}

type AnnotationServiceAttributes struct {
	Name                 string `json:"name" yaml:"name" validate:"required"`
	Description          string `json:"description,omitempty" yaml:"description"`
	ContainerImage       string `json:"containerImage" yaml:"containerImage" validate:"required"`
	ContainerTag         string `json:"containerTag" yaml:"containerTag" validate:"required"`
	SourceCodeRepository string `json:"sourceCodeRepository,omitempty" yaml:"sourceCodeRepository" validate:"omitempty,url"`
	SupportContact       string `json:"supportContact,omitempty" yaml:"supportContact"`
	License              string `json:"license,omitempty" yaml:"license"`

	// Dependencies is a set: order is irrelevant.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies"`

	TopicName         string `json:"topicName,omitempty" yaml:"topicName"`
	MaxReplicas       int    `json:"maxReplicas" yaml:"maxReplicas" validate:"gte=1"`
	BatchingPermitted bool   `json:"batchingPermitted" yaml:"batchingPermitted"`

	// TimeToLive of annotation requests, in seconds.
	TimeToLive int `json:"timeToLive" yaml:"timeToLive" validate:"gte=0"`

	// Environment and Secrets are sets keyed by name.
	Environment []EnvVar    `json:"environment,omitempty" yaml:"environment" validate:"dive"`
	Secrets     []SecretRef `json:"secrets,omitempty" yaml:"secrets" validate:"dive"`

	TargetFilters map[string][]string `json:"targetFilters,omitempty" yaml:"targetFilters"`
}

func (*AnnotationServiceAttributes) Kind() Kind { return AnnotationService }
