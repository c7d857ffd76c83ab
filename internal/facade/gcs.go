package facade

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/eniz1806/omnistore/internal/fingerprint"
	"github.com/eniz1806/omnistore/internal/metadata"
	"github.com/eniz1806/omnistore/internal/objstore"
)

const gcsDefaultMaxResults = 1000

type gcsBucket struct {
	Kind         string `json:"kind"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	TimeCreated  string `json:"timeCreated"`
	Updated      string `json:"updated"`
	StorageClass string `json:"storageClass"`
}

type gcsBucketList struct {
	Kind  string      `json:"kind"`
	Items []gcsBucket `json:"items"`
}

type gcsObject struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Bucket      string `json:"bucket"`
	Size        string `json:"size"`
	ContentType string `json:"contentType"`
	Etag        string `json:"etag"`
	MD5Hash     string `json:"md5Hash,omitempty"`
	TimeCreated string `json:"timeCreated"`
	Updated     string `json:"updated"`
	MediaLink   string `json:"mediaLink"`
}

type gcsObjectList struct {
	Kind          string      `json:"kind"`
	Items         []gcsObject `json:"items"`
	Prefix        string      `json:"prefix,omitempty"`
	NextPageToken string      `json:"nextPageToken,omitempty"`
}

type gcsErrorItem struct {
	Domain  string `json:"domain"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type gcsErrorBody struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Errors  []gcsErrorItem `json:"errors"`
}

type gcsErrorResponse struct {
	Error gcsErrorBody `json:"error"`
}

func gcsTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func gcsBucketResource(b metadata.BucketInfo) gcsBucket {
	return gcsBucket{
		Kind:         "storage#bucket",
		ID:           b.Name,
		Name:         b.Name,
		TimeCreated:  gcsTime(b.CreatedAt),
		Updated:      gcsTime(b.CreatedAt),
		StorageClass: "STANDARD",
	}
}

func gcsObjectResource(o metadata.ObjectMeta) gcsObject {
	return gcsObject{
		Kind:        "storage#object",
		ID:          o.Bucket + "/" + o.Key,
		Name:        o.Key,
		Bucket:      o.Bucket,
		Size:        strconv.FormatInt(o.Size, 10),
		ContentType: o.ContentType,
		Etag:        o.Fingerprint,
		MD5Hash:     contentMD5(o.Fingerprint),
		TimeCreated: gcsTime(o.Created),
		Updated:     gcsTime(o.LastModified),
		MediaLink:   "/gcs/storage/v1/b/" + url.PathEscape(o.Bucket) + "/o/" + url.PathEscape(o.Key) + "?alt=media",
	}
}

type gcsEncoder struct{}

func (gcsEncoder) encode(w http.ResponseWriter, _ *http.Request, res *Result) {
	if res.Err != nil {
		writeGCSError(w, res.Err)
		return
	}
	switch res.Op {
	case OpListBuckets:
		out := gcsBucketList{Kind: "storage#buckets", Items: []gcsBucket{}}
		for _, b := range res.Buckets {
			out.Items = append(out.Items, gcsBucketResource(b))
		}
		writeJSON(w, http.StatusOK, out)
	case OpCreateBucket:
		if !res.Created {
			writeGCSErrorCode(w, http.StatusConflict, "conflict", "the requested bucket already exists")
			return
		}
		info := metadata.BucketInfo{Name: res.Bucket, CreatedAt: time.Now()}
		if res.Info != nil {
			info = *res.Info
		}
		writeJSON(w, http.StatusOK, gcsBucketResource(info))
	case OpHeadBucket:
		writeJSON(w, http.StatusOK, gcsBucketResource(*res.Info))
	case OpListObjects:
		out := gcsObjectList{Kind: "storage#objects", Items: []gcsObject{}, Prefix: res.Prefix}
		for _, o := range res.Objects {
			out.Items = append(out.Items, gcsObjectResource(o))
		}
		if res.Truncated && len(res.Objects) > 0 {
			out.NextPageToken = res.Objects[len(res.Objects)-1].Key
		}
		writeJSON(w, http.StatusOK, out)
	case OpPutObject, OpDescribeObject:
		w.Header().Set("ETag", fingerprint.Quote(res.Object.Fingerprint))
		writeJSON(w, http.StatusOK, gcsObjectResource(*res.Object))
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeGCSError(w http.ResponseWriter, err error) {
	reason := "backendError"
	switch classify(err) {
	case kindNoSuchKey, kindNoSuchBucket:
		reason = "notFound"
	case kindRange:
		reason = "requestedRangeNotSatisfiable"
	case kindBadRequest:
		reason = "invalid"
	case kindMethod, kindConflict:
		reason = "methodNotAllowed"
	}
	writeGCSErrorCode(w, statusFor(err), reason, publicMessage(err))
}

func writeGCSErrorCode(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, gcsErrorResponse{Error: gcsErrorBody{
		Code:    status,
		Message: message,
		Errors:  []gcsErrorItem{{Domain: "global", Reason: reason, Message: message}},
	}})
}

func (gcsEncoder) objectHeaders(h http.Header, meta metadata.ObjectMeta) {
	if md5 := contentMD5(meta.Fingerprint); md5 != "" {
		h.Set("x-goog-hash", "md5="+md5)
	}
	h.Set("x-goog-stored-content-length", strconv.FormatInt(meta.Size, 10))
}

func (gcsEncoder) listRequest(r *http.Request) listRequest {
	q := r.URL.Query()
	return listRequest{
		opts: objstore.ListOptions{
			Prefix:     q.Get("prefix"),
			StartAfter: q.Get("pageToken"),
			MaxKeys:    queryInt(r, "maxResults", gcsDefaultMaxResults, gcsDefaultMaxResults),
		},
		depth: 1,
	}
}
