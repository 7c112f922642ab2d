// Package record defines the content-record data model consumed from the
// external crawl pipeline, and the ChangeSet audit record produced by each
// promotion. Records are validated once, at the producer boundary, before
// they enter the versioning core.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.strata.dev/core/fault"
)

// ArtifactType tags the class of a crawled artifact.
type ArtifactType int

const (
	// Page is a crawled HTML document.
	Page ArtifactType = iota
	// PDF is a document embedded in or linked from a page.
	PDF
	// Image is an image embedded in a page.
	Image
)

var artifactTypeNames = [...]string{"Page", "PDF", "Image"}

func (t ArtifactType) String() string {
	if t < Page || t > Image {
		return "invalid"
	}
	return artifactTypeNames[t]
}

// ParseArtifactType maps a type name back to its ArtifactType.
func ParseArtifactType(s string) (ArtifactType, error) {
	for i, n := range artifactTypeNames {
		if n == s {
			return ArtifactType(i), nil
		}
	}
	return 0, fault.Errorf(fault.Fatal, "unrecognized artifact type %q", s)
}

var checksumRegexp = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ContentRecord is one row of a generation's table: a single crawled
// artifact, its content address, and its storage location within the
// generation's object-key prefix.
type ContentRecord struct {
	// ElementID is the record's content address: a checksum over the source
	// URL and the crawl-run id. Unique within a generation's table.
	ElementID string
	// Type tags the artifact class.
	Type ArtifactType
	// URL is the source URL of the artifact.
	URL string
	// StoragePath is the object key of the artifact's content, within the
	// generation's prefix.
	StoragePath string
	// Checksum is the SHA-256 hex digest of the artifact's content bytes.
	Checksum string
	// ParentID optionally names the ElementID of the page which embeds this
	// artifact.
	ParentID string

	// Auxiliary statistics extracted alongside page content. These flow
	// through the diff engine as configurable tracked fields.
	Title      string
	Language   string
	WordCount  int64
	PDFCount   int64
	ImageCount int64
	TableCount int64
	LinkCount  int64
}

// Validate inspects the record for structural problems. It is called once as
// records cross the producer boundary; the core assumes validated inputs.
func (r *ContentRecord) Validate() error {
	if r.ElementID == "" {
		return fault.Errorf(fault.Fatal, "record has an empty element_id")
	}
	if r.Type < Page || r.Type > Image {
		return fault.Errorf(fault.Fatal, "record %s: invalid artifact type %d", r.ElementID, r.Type)
	}
	if r.URL == "" {
		return fault.Errorf(fault.Fatal, "record %s: empty URL", r.ElementID)
	}
	if r.StoragePath == "" {
		return fault.Errorf(fault.Fatal, "record %s: empty storage_path", r.ElementID)
	}
	if !checksumRegexp.MatchString(r.Checksum) {
		return fault.Errorf(fault.Fatal, "record %s: checksum %q is not hex-encoded SHA-256", r.ElementID, r.Checksum)
	}
	return nil
}

// NewElementID derives a content address for an artifact from its source URL
// and the crawl run which observed it.
func NewElementID(url string, run uuid.UUID) string {
	var h = sha256.New()
	h.Write([]byte(url))
	h.Write(run[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Digest is the comparison view of a record used by the diff engine: its
// content checksum plus the tracked fields the diff rules may inspect.
// Absent fields read as zero values, never as a fault.
type Digest struct {
	ElementID string
	Checksum  string
	// Numeric tracked fields, keyed by field name.
	Numeric map[string]float64
	// Categorical tracked fields, keyed by field name.
	Categorical map[string]string
}

// Digest projects the record into its comparison view.
func (r *ContentRecord) Digest() Digest {
	return Digest{
		ElementID: r.ElementID,
		Checksum:  r.Checksum,
		Numeric: map[string]float64{
			"word_count":  float64(r.WordCount),
			"pdf_count":   float64(r.PDFCount),
			"image_count": float64(r.ImageCount),
			"table_count": float64(r.TableCount),
			"link_count":  float64(r.LinkCount),
		},
		Categorical: map[string]string{
			"type":     r.Type.String(),
			"title":    r.Title,
			"language": r.Language,
		},
	}
}

// ChangeSet is the immutable audit record of one promotion: the element-wise
// difference of the candidate generation against the generation it replaced.
// Once persisted it is never mutated.
type ChangeSet struct {
	// VersionID is the candidate generation's id.
	VersionID string
	// Added, Modified and Deleted hold element ids, sorted lexicographically.
	Added    []string
	Modified []string
	Deleted  []string
	// CreatedAt is the time the ChangeSet was computed.
	CreatedAt time.Time
}

// Empty returns whether the ChangeSet records no differences.
func (cs ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Modified) == 0 && len(cs.Deleted) == 0
}
