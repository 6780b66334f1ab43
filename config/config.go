package config

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// OutputStride is the voxel spacing of the detection grid: 4 poolings
	// followed by 2 x2 upsamplings.
	OutputStride int64 = 4
	// PoolStride is the total downsampling of the deepest encoder stage.
	PoolStride int64 = 16
)

// AugType toggles individual augmentations.
type AugType struct {
	Flip   bool `yaml:"flip"`
	Swap   bool `yaml:"swap"`
	Scale  bool `yaml:"scale"`
	Rotate bool `yaml:"rotate"`
}

// Config holds detector hyperparameters. It is built once and passed by value.
type Config struct {
	Anchors    []float64 `yaml:"anchors"` // mm
	Channel    int64     `yaml:"channel"`
	CropSize   []int64   `yaml:"crop_size"`
	Stride     int64     `yaml:"stride"`
	MaxStride  int64     `yaml:"max_stride"`
	NumNeg     int64     `yaml:"num_neg"`
	ThNeg      float64   `yaml:"th_neg"`
	ThPosTrain float64   `yaml:"th_pos_train"`
	ThPosVal   float64   `yaml:"th_pos_val"`
	NumHard    int64     `yaml:"num_hard"`
	BoundSize  int64     `yaml:"bound_size"`
	Reso       float64   `yaml:"reso"`
	SizeLim    float64   `yaml:"sizelim"` // mm
	SizeLim2   float64   `yaml:"sizelim2"`
	SizeLim3   float64   `yaml:"sizelim3"`
	AugScale   bool      `yaml:"aug_scale"`
	RRandCrop  float64   `yaml:"r_rand_crop"`
	PadValue   float64   `yaml:"pad_value"`
	LunaRaw    bool      `yaml:"luna_raw"`
	Cleaning   bool      `yaml:"cleaning"`
	AugType    AugType   `yaml:"augtype"`
	Blacklist  []string  `yaml:"blacklist"`
	LRStage    []int64   `yaml:"lr_stage"`
	LR         []float64 `yaml:"lr"`
}

// Default returns the detector configuration used for LUNA16 training.
func Default() Config {
	return Config{
		Anchors:    []float64{10.0, 30.0, 60.0},
		Channel:    1,
		CropSize:   []int64{128, 128, 128},
		Stride:     4,
		MaxStride:  16,
		NumNeg:     800,
		ThNeg:      0.02,
		ThPosTrain: 0.5,
		ThPosVal:   1,
		NumHard:    2,
		BoundSize:  12,
		Reso:       1,
		SizeLim:    6.0,
		SizeLim2:   30,
		SizeLim3:   40,
		AugScale:   true,
		RRandCrop:  0.3,
		PadValue:   170,
		LunaRaw:    true,
		Cleaning:   true,
		AugType:    AugType{Flip: true, Swap: false, Scale: true, Rotate: false},
		Blacklist: []string{
			"868b024d9fa388b7ddab12ec1c06af38",
			"990fbe3f0a1b53878669967b9afd1441",
			"adc3bbc63d40f8761c59be10f1e504c3",
		},
		LRStage: []int64{50, 100, 120},
		LR:      []float64{0.01, 0.001, 0.0001},
	}
}

// Load reads a YAML file and overlays it onto Default. Keys absent from the
// file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %q", path)
	}
	return Parse(data)
}

// Parse decodes YAML bytes on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the invariants the network and the loss rely on.
func (c Config) Validate() error {
	if len(c.Anchors) == 0 {
		return errors.New("config: anchors must not be empty")
	}
	for i, a := range c.Anchors {
		if a <= 0 {
			return errors.Errorf("config: anchor %d must be positive, got %v", i, a)
		}
	}
	if c.Stride <= 0 || c.MaxStride <= 0 {
		return errors.Errorf("config: stride (%d) and max_stride (%d) must be positive", c.Stride, c.MaxStride)
	}
	if c.Stride != OutputStride {
		return errors.Errorf("config: stride must be %d, got %d", OutputStride, c.Stride)
	}
	if c.MaxStride%PoolStride != 0 {
		return errors.Errorf("config: max_stride %d is not a multiple of %d", c.MaxStride, PoolStride)
	}
	if len(c.CropSize) != 3 {
		return errors.Errorf("config: crop_size needs 3 dims, got %v", c.CropSize)
	}
	for _, s := range c.CropSize {
		if s <= 0 || s%c.MaxStride != 0 {
			return errors.Errorf("config: crop_size %v must be positive multiples of max_stride %d", c.CropSize, c.MaxStride)
		}
	}
	if c.NumHard < 0 {
		return errors.Errorf("config: num_hard must not be negative, got %d", c.NumHard)
	}
	if len(c.LRStage) == 0 || len(c.LRStage) != len(c.LR) {
		return errors.Errorf("config: lr_stage (%d) and lr (%d) must have the same non-zero length", len(c.LRStage), len(c.LR))
	}
	for i := 1; i < len(c.LRStage); i++ {
		if c.LRStage[i] <= c.LRStage[i-1] {
			return errors.Errorf("config: lr_stage must be increasing, got %v", c.LRStage)
		}
	}

	return nil
}

// NumAnchors returns number of anchor scales, i.e. boxes predicted per cell.
func (c Config) NumAnchors() int64 {
	return int64(len(c.Anchors))
}

// LRAt returns the learning rate for the given epoch: the rate of the first
// stage whose breakpoint is not yet passed, or the last rate afterwards.
func (c Config) LRAt(epoch int64) float64 {
	for i, stage := range c.LRStage {
		if epoch <= stage {
			return c.LR[i]
		}
	}
	return c.LR[len(c.LR)-1]
}

// IsBlacklisted reports whether a case id is excluded from the dataset.
func (c Config) IsBlacklisted(id string) bool {
	for _, b := range c.Blacklist {
		if b == id {
			return true
		}
	}
	return false
}
