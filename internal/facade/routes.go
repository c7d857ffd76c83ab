package facade

import (
	"net/http"
	"strings"
)

// Protocol names a wire protocol served by the facade.
type Protocol string

const (
	ProtoS3     Protocol = "s3"
	ProtoAzure  Protocol = "azure"
	ProtoGCS    Protocol = "gcs"
	ProtoWebDAV Protocol = "webdav"
	ProtoSystem Protocol = "system"
)

// Op is a canonical store operation, plus the few facade-level endpoints.
type Op string

const (
	OpListBuckets    Op = "ListBuckets"
	OpCreateBucket   Op = "CreateBucket"
	OpDeleteBucket   Op = "DeleteBucket"
	OpHeadBucket     Op = "HeadBucket"
	OpListObjects    Op = "ListObjects"
	OpGetObject      Op = "GetObject"
	OpHeadObject     Op = "HeadObject"
	OpPutObject      Op = "PutObject"
	OpDeleteObject   Op = "DeleteObject"
	OpDescribeObject Op = "DescribeObject" // metadata document only, never the body
	OpOptions        Op = "Options"
	OpHealth         Op = "Health"
	OpReady          Op = "Ready"
)

// Shape classifies a request path after the protocol prefix is removed.
type Shape int

const (
	ShapeRoot    Shape = iota // service level
	ShapeBucket               // one bucket / container / collection
	ShapeObjects              // GCS object collection: /b/{bucket}/o
	ShapeObject               // one object
	ShapeMedia                // GCS object body: /o/{name}?alt=media
	ShapeUpload               // GCS media upload: /upload/.../b/{bucket}/o?name=
	ShapeHealth
	ShapeReady
)

const methodPropfind = "PROPFIND"
const methodMkcol = "MKCOL"

type target struct {
	shape  Shape
	bucket string
	key    string
}

type routeKey struct {
	method string
	shape  Shape
}

// adapter is one protocol's entry in the dispatch table: its path prefix,
// path grammar, verb mapping and response encoder.
type adapter struct {
	protocol Protocol
	prefix   string
	parse    func(rest string, r *http.Request) (target, bool)
	routes   map[routeKey]Op
	enc      encoder
}

func (a *adapter) match(path string) (string, bool) {
	if a.prefix == "" {
		return path, true
	}
	if path == a.prefix {
		return "", true
	}
	if rest, ok := strings.CutPrefix(path, a.prefix+"/"); ok {
		return rest, true
	}
	return "", false
}

// withOptions adds an OPTIONS route for every shape the table already uses.
func withOptions(routes map[routeKey]Op) map[routeKey]Op {
	shapes := map[Shape]bool{}
	for k := range routes {
		shapes[k.shape] = true
	}
	for s := range shapes {
		routes[routeKey{http.MethodOptions, s}] = OpOptions
	}
	return routes
}

// adapters is the closed dispatch table. Order matters: the first adapter
// whose prefix matches owns the request, and S3 with the empty prefix is last.
var adapters = []*adapter{
	{
		protocol: ProtoSystem,
		parse:    parseSystemPath,
		routes: map[routeKey]Op{
			{http.MethodGet, ShapeHealth}:  OpHealth,
			{http.MethodHead, ShapeHealth}: OpHealth,
			{http.MethodGet, ShapeReady}:   OpReady,
		},
		enc: systemEncoder{},
	},
	{
		protocol: ProtoAzure,
		prefix:   "/azure",
		parse:    parseBucketKeyPath,
		routes: withOptions(map[routeKey]Op{
			{http.MethodGet, ShapeRoot}:      OpListBuckets,
			{http.MethodGet, ShapeBucket}:    OpListObjects,
			{http.MethodPut, ShapeBucket}:    OpCreateBucket,
			{http.MethodDelete, ShapeBucket}: OpDeleteBucket,
			{http.MethodHead, ShapeBucket}:   OpHeadBucket,
			{http.MethodGet, ShapeObject}:    OpGetObject,
			{http.MethodPut, ShapeObject}:    OpPutObject,
			{http.MethodDelete, ShapeObject}: OpDeleteObject,
			{http.MethodHead, ShapeObject}:   OpHeadObject,
		}),
		enc: azureEncoder{},
	},
	{
		protocol: ProtoGCS,
		prefix:   "/gcs",
		parse:    parseGCSPath,
		routes: withOptions(map[routeKey]Op{
			{http.MethodGet, ShapeRoot}:      OpListBuckets,
			{http.MethodPost, ShapeRoot}:     OpCreateBucket,
			{http.MethodGet, ShapeBucket}:    OpHeadBucket,
			{http.MethodDelete, ShapeBucket}: OpDeleteBucket,
			{http.MethodGet, ShapeObjects}:   OpListObjects,
			{http.MethodGet, ShapeObject}:    OpDescribeObject,
			{http.MethodPut, ShapeObject}:    OpPutObject,
			{http.MethodDelete, ShapeObject}: OpDeleteObject,
			{http.MethodGet, ShapeMedia}:     OpGetObject,
			{http.MethodHead, ShapeMedia}:    OpHeadObject,
			{http.MethodPost, ShapeUpload}:   OpPutObject,
		}),
		enc: gcsEncoder{},
	},
	{
		protocol: ProtoWebDAV,
		prefix:   "/webdav",
		parse:    parseBucketKeyPath,
		routes: withOptions(map[routeKey]Op{
			{methodPropfind, ShapeRoot}:      OpListBuckets,
			{methodPropfind, ShapeBucket}:    OpListObjects,
			{methodPropfind, ShapeObject}:    OpDescribeObject,
			{http.MethodGet, ShapeBucket}:    OpListObjects,
			{methodMkcol, ShapeBucket}:       OpCreateBucket,
			{methodMkcol, ShapeObject}:       OpCreateBucket, // nested: rejected
			{http.MethodDelete, ShapeBucket}: OpDeleteBucket,
			{http.MethodPut, ShapeBucket}:    OpPutObject, // no key: rejected
			{http.MethodGet, ShapeObject}:    OpGetObject,
			{http.MethodHead, ShapeObject}:   OpHeadObject,
			{http.MethodPut, ShapeObject}:    OpPutObject,
			{http.MethodDelete, ShapeObject}: OpDeleteObject,
		}),
		enc: webdavEncoder{},
	},
	{
		protocol: ProtoS3,
		parse:    parseBucketKeyPath,
		routes: withOptions(map[routeKey]Op{
			{http.MethodGet, ShapeRoot}:      OpListBuckets,
			{http.MethodPut, ShapeBucket}:    OpCreateBucket,
			{http.MethodDelete, ShapeBucket}: OpDeleteBucket,
			{http.MethodGet, ShapeBucket}:    OpListObjects,
			{http.MethodHead, ShapeBucket}:   OpHeadBucket,
			{http.MethodGet, ShapeObject}:    OpGetObject,
			{http.MethodPut, ShapeObject}:    OpPutObject,
			{http.MethodDelete, ShapeObject}: OpDeleteObject,
			{http.MethodHead, ShapeObject}:   OpHeadObject,
		}),
		enc: s3Encoder{},
	},
}

// reservedBuckets are first path segments owned by a non-S3 adapter; a
// bucket with one of these names could not be addressed over S3.
var reservedBuckets = map[string]bool{
	"azure": true, "gcs": true, "webdav": true, "health": true, "ready": true, "metrics": true,
}

type resolution int

const (
	resolved resolution = iota
	unknownPath
	unmappedMethod
)

// resolve finds the adapter, target and operation for a request. The
// returned adapter is never nil, so every failure can be encoded in the
// envelope of the protocol the client was speaking.
func resolve(r *http.Request) (*adapter, target, Op, resolution) {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	for _, a := range adapters {
		rest, ok := a.match(path)
		if !ok {
			continue
		}
		t, ok := a.parse(rest, r)
		if !ok {
			if a.prefix == "" {
				continue
			}
			return a, target{}, "", unknownPath
		}
		op, ok := a.routes[routeKey{r.Method, t.shape}]
		if !ok {
			return a, t, "", unmappedMethod
		}
		return a, t, op, resolved
	}
	// The S3 adapter accepts every path, so this is not reached.
	return adapters[len(adapters)-1], target{}, "", unknownPath
}

func parseSystemPath(rest string, _ *http.Request) (target, bool) {
	switch rest {
	case "/health":
		return target{shape: ShapeHealth}, true
	case "/ready":
		return target{shape: ShapeReady}, true
	}
	return target{}, false
}

// parseBucketKeyPath handles "", "/", "{bucket}", "{bucket}/" and
// "{bucket}/{key...}", with or without a leading slash.
func parseBucketKeyPath(rest string, _ *http.Request) (target, bool) {
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return target{shape: ShapeRoot}, true
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if key == "" {
		return target{shape: ShapeBucket, bucket: bucket}, true
	}
	return target{shape: ShapeObject, bucket: bucket, key: key}, true
}

// parseGCSPath handles the JSON API under /storage/v1/b and the media
// upload endpoint under /upload/storage/v1/b.
func parseGCSPath(rest string, r *http.Request) (target, bool) {
	rest = "/" + strings.TrimPrefix(rest, "/")
	if up, ok := strings.CutPrefix(rest, "/upload/storage/v1/b/"); ok {
		bucket, tail, _ := strings.Cut(up, "/")
		if bucket == "" || tail != "o" {
			return target{}, false
		}
		return target{shape: ShapeUpload, bucket: bucket, key: r.URL.Query().Get("name")}, true
	}
	if rest == "/storage/v1/b" || rest == "/storage/v1/b/" {
		return target{shape: ShapeRoot}, true
	}
	after, ok := strings.CutPrefix(rest, "/storage/v1/b/")
	if !ok {
		return target{}, false
	}
	bucket, tail, _ := strings.Cut(after, "/")
	if bucket == "" {
		return target{}, false
	}
	switch {
	case tail == "":
		return target{shape: ShapeBucket, bucket: bucket}, true
	case tail == "o" || tail == "o/":
		return target{shape: ShapeObjects, bucket: bucket}, true
	}
	name, ok := strings.CutPrefix(tail, "o/")
	if !ok {
		return target{}, false
	}
	if r.URL.Query().Get("alt") == "media" {
		return target{shape: ShapeMedia, bucket: bucket, key: name}, true
	}
	return target{shape: ShapeObject, bucket: bucket, key: name}, true
}
