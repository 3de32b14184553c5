package reportsync

import "time"

const (
	DefaultMinStake         = 10
	DefaultMaxStake         = 1000
	DefaultMaxEvidenceSize  = 10 << 20
	DefaultMaxEvidenceFiles = 10
	DefaultBalance          = 250
	dateLayout              = "2006-01-02"
)

// Config holds the client policy knobs. Zero fields take the defaults above.
type Config struct {
	MinStake         int64
	MaxStake         int64
	MaxEvidenceSize  int64
	MaxEvidenceFiles int
	DefaultBalance   int64

	// MaxImageDimension > 0 downsizes image evidence to fit a square of that
	// many pixels before it is encoded.
	MaxImageDimension int

	// StrictSubmit makes SubmitReport return RemoteRejected when the store
	// explicitly refuses a report instead of keeping it locally.
	StrictSubmit bool

	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MinStake <= 0 {
		c.MinStake = DefaultMinStake
	}
	if c.MaxStake <= 0 {
		c.MaxStake = DefaultMaxStake
	}
	if c.MaxEvidenceSize <= 0 {
		c.MaxEvidenceSize = DefaultMaxEvidenceSize
	}
	if c.MaxEvidenceFiles <= 0 {
		c.MaxEvidenceFiles = DefaultMaxEvidenceFiles
	}
	if c.DefaultBalance <= 0 {
		c.DefaultBalance = DefaultBalance
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
