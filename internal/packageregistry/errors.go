package packageregistry

// Kind values for packageregistry.Error.
const (
	KindPackageExists       = "PackageExists"
	KindInvalidArchive      = "InvalidArchive"
	KindManifestMismatch    = "ManifestMismatch"
	KindLibraryInvalid      = "LibraryInvalid"
	KindVersionIncompatible = "VersionIncompatible"
	KindUnsignedRejected    = "UnsignedRejected"
	KindNotFound            = "NotFound"
	KindBinaryMissing       = "BinaryMissing"
)

// Error is the packageregistry package's implementation of model.Error.
type Error struct {
	kind string
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Kind() string  { return e.kind }

func errPackageExists(name, version string) error {
	return &Error{kind: KindPackageExists, msg: "package already exists: " + name + "@" + version}
}
func errInvalidArchive(msg string) error   { return &Error{kind: KindInvalidArchive, msg: msg} }
func errManifestMismatch(msg string) error { return &Error{kind: KindManifestMismatch, msg: msg} }
func errLibraryInvalid(msg string) error   { return &Error{kind: KindLibraryInvalid, msg: msg} }
func errVersionIncompatible(msg string) error {
	return &Error{kind: KindVersionIncompatible, msg: msg}
}
func errUnsignedRejected(msg string) error { return &Error{kind: KindUnsignedRejected, msg: msg} }
func errNotFound(msg string) error         { return &Error{kind: KindNotFound, msg: msg} }

// NewNotFoundError lets a Store implementation report KindNotFound without
// importing packageregistry's unexported constructors.
func NewNotFoundError(msg string) error { return errNotFound(msg) }
func errBinaryMissing(msg string) error    { return &Error{kind: KindBinaryMissing, msg: msg} }
