package facade

import (
	"encoding/xml"
	"net/http"
	"time"

	"github.com/eniz1806/omnistore/internal/fingerprint"
	"github.com/eniz1806/omnistore/internal/metadata"
	"github.com/eniz1806/omnistore/internal/objstore"
)

const s3Namespace = "http://s3.amazonaws.com/doc/2006-03-01/"

const s3DefaultMaxKeys = 1000

type xmlOwner struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

type s3Error struct {
	XMLName  xml.Name `xml:"Error"`
	Code     string   `xml:"Code"`
	Message  string   `xml:"Message"`
	Resource string   `xml:"Resource,omitempty"`
}

type xmlBucket struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

type listAllMyBucketsResult struct {
	XMLName xml.Name    `xml:"ListAllMyBucketsResult"`
	Xmlns   string      `xml:"xmlns,attr"`
	Owner   xmlOwner    `xml:"Owner"`
	Buckets []xmlBucket `xml:"Buckets>Bucket"`
}

type xmlObject struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type listBucketResult struct {
	XMLName     xml.Name    `xml:"ListBucketResult"`
	Xmlns       string      `xml:"xmlns,attr"`
	Name        string      `xml:"Name"`
	Prefix      string      `xml:"Prefix"`
	StartAfter  string      `xml:"StartAfter,omitempty"`
	MaxKeys     int         `xml:"MaxKeys"`
	KeyCount    int         `xml:"KeyCount"`
	IsTruncated bool        `xml:"IsTruncated"`
	Contents    []xmlObject `xml:"Contents"`
}

func writeXML(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	w.Write([]byte(xml.Header))
	xml.NewEncoder(w).Encode(v)
}

func s3Time(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

type s3Encoder struct{}

func (s3Encoder) encode(w http.ResponseWriter, r *http.Request, res *Result) {
	if res.Err != nil {
		writeS3Error(w, r, res.Err)
		return
	}
	switch res.Op {
	case OpListBuckets:
		out := listAllMyBucketsResult{
			Xmlns: s3Namespace,
			Owner: xmlOwner{ID: "omnistore", DisplayName: "omnistore"},
		}
		for _, b := range res.Buckets {
			out.Buckets = append(out.Buckets, xmlBucket{Name: b.Name, CreationDate: s3Time(b.CreatedAt)})
		}
		writeXML(w, http.StatusOK, out)
	case OpListObjects:
		out := listBucketResult{
			Xmlns:       s3Namespace,
			Name:        res.Bucket,
			Prefix:      res.Prefix,
			StartAfter:  res.StartAfter,
			MaxKeys:     res.MaxKeys,
			KeyCount:    len(res.Objects),
			IsTruncated: res.Truncated,
		}
		for _, o := range res.Objects {
			out.Contents = append(out.Contents, xmlObject{
				Key:          o.Key,
				LastModified: s3Time(o.LastModified),
				ETag:         fingerprint.Quote(o.Fingerprint),
				Size:         o.Size,
				StorageClass: "STANDARD",
			})
		}
		writeXML(w, http.StatusOK, out)
	case OpPutObject:
		w.Header().Set("ETag", fingerprint.Quote(res.Object.Fingerprint))
		w.WriteHeader(http.StatusOK)
	case OpHeadBucket:
		w.WriteHeader(http.StatusOK)
	case OpCreateBucket:
		w.Header().Set("Location", "/"+res.Bucket)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeS3Error(w http.ResponseWriter, r *http.Request, err error) {
	code := "InternalError"
	switch classify(err) {
	case kindNoSuchKey:
		code = "NoSuchKey"
	case kindNoSuchBucket:
		code = "NoSuchBucket"
	case kindRange:
		code = "InvalidRange"
	case kindBadRequest:
		code = "InvalidArgument"
	case kindMethod, kindConflict:
		code = "MethodNotAllowed"
	}
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		code = "ServiceUnavailable"
	}
	writeXML(w, status, s3Error{Code: code, Message: publicMessage(err), Resource: r.URL.Path})
}

func (s3Encoder) objectHeaders(http.Header, metadata.ObjectMeta) {}

func (s3Encoder) listRequest(r *http.Request) listRequest {
	q := r.URL.Query()
	return listRequest{
		opts: objstore.ListOptions{
			Prefix:     q.Get("prefix"),
			StartAfter: q.Get("start-after"),
			MaxKeys:    queryInt(r, "max-keys", s3DefaultMaxKeys, s3DefaultMaxKeys),
		},
		depth: 1,
	}
}
