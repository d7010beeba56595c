package expr

// AttrKind is the decoding hint for a well-known attribute's raw bytes,
// mirroring the Envoy attribute type table: most attributes decode to a
// single CEL type, so a value can be produced directly from the wire bytes
// without sniffing.
type AttrKind int

const (
	AttrString AttrKind = iota
	AttrInt
	AttrUint
	AttrFloat
	AttrBool
	AttrBytes
	AttrTimestamp
	AttrMap
)

// wellKnownAttributes mirrors the static table of Envoy attribute paths to
// their CEL decoding type. An attribute absent from this table falls back
// to the string-then-JSON-sniff path in DecodeAttribute.
var wellKnownAttributes = map[string]AttrKind{
	"request.time":     AttrTimestamp,
	"request.id":       AttrString,
	"request.protocol": AttrString,
	"request.scheme":   AttrString,
	"request.host":     AttrString,
	"request.method":   AttrString,
	"request.path":     AttrString,
	"request.url_path": AttrString,
	"request.query":    AttrString,
	"request.referer":  AttrString,
	"request.useragent": AttrString,
	"request.body":     AttrString,
	"request.raw_body": AttrBytes,
	"request.size":     AttrInt,

	"source.address":        AttrString,
	"source.remote_address": AttrString,
	"source.service":        AttrString,
	"source.principal":      AttrString,
	"source.certificate":    AttrString,
	"source.port":           AttrInt,
	"source.labels":         AttrMap,

	"destination.address":     AttrString,
	"destination.service":     AttrString,
	"destination.principal":   AttrString,
	"destination.certificate": AttrString,
	"destination.port":        AttrInt,
	"destination.labels":      AttrMap,

	"connection.requested_server_name":          AttrString,
	"connection.tls_session.sni":                AttrString,
	"connection.tls_version":                    AttrString,
	"connection.subject_local_certificate":       AttrString,
	"connection.subject_peer_certificate":        AttrString,
	"connection.dns_san_local_certificate":       AttrString,
	"connection.dns_san_peer_certificate":        AttrString,
	"connection.uri_san_local_certificate":       AttrString,
	"connection.uri_san_peer_certificate":        AttrString,
	"connection.sha256_peer_certificate_digest":  AttrString,
	"connection.id":                              AttrInt,
	"connection.mtls":                            AttrBool,

	"ratelimit.domain":      AttrString,
	"ratelimit.hits_addend": AttrInt,

	"request.headers":             AttrMap,
	"request.context_extensions":  AttrMap,
	"filter_state":                AttrMap,
}

// KindFor reports the decode hint registered for path, if any.
func KindFor(path string) (AttrKind, bool) {
	k, ok := wellKnownAttributes[path]
	return k, ok
}
