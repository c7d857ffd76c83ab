package facade

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"net/http"

	"github.com/eniz1806/omnistore/internal/fingerprint"
	"github.com/eniz1806/omnistore/internal/metadata"
	"github.com/eniz1806/omnistore/internal/objstore"
)

const azureAPIVersion = "2021-08-06"

const azureDefaultMaxResults = 5000

type azureError struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

type azureContainerProps struct {
	LastModified string `xml:"Last-Modified"`
	Etag         string `xml:"Etag"`
}

type azureContainer struct {
	Name       string              `xml:"Name"`
	Properties azureContainerProps `xml:"Properties"`
}

type azureContainerList struct {
	XMLName         xml.Name         `xml:"EnumerationResults"`
	ServiceEndpoint string           `xml:"ServiceEndpoint,attr"`
	Containers      []azureContainer `xml:"Containers>Container"`
	NextMarker      string           `xml:"NextMarker"`
}

type azureBlobProps struct {
	CreationTime  string `xml:"Creation-Time"`
	LastModified  string `xml:"Last-Modified"`
	Etag          string `xml:"Etag"`
	ContentLength int64  `xml:"Content-Length"`
	ContentType   string `xml:"Content-Type"`
	ContentMD5    string `xml:"Content-MD5,omitempty"`
	BlobType      string `xml:"BlobType"`
}

type azureBlob struct {
	Name       string         `xml:"Name"`
	Properties azureBlobProps `xml:"Properties"`
}

type azureBlobList struct {
	XMLName         xml.Name    `xml:"EnumerationResults"`
	ServiceEndpoint string      `xml:"ServiceEndpoint,attr"`
	ContainerName   string      `xml:"ContainerName,attr"`
	Prefix          string      `xml:"Prefix,omitempty"`
	Marker          string      `xml:"Marker,omitempty"`
	MaxResults      int         `xml:"MaxResults"`
	Blobs           []azureBlob `xml:"Blobs>Blob"`
	NextMarker      string      `xml:"NextMarker"`
}

// contentMD5 returns the base64 digest Azure and GCS clients expect, or ""
// when the fingerprint is not an MD5.
func contentMD5(fp string) string {
	raw, err := hex.DecodeString(fp)
	if err != nil || len(raw) != 16 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func serviceEndpoint(r *http.Request, prefix string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + prefix + "/"
}

type azureEncoder struct{}

func (azureEncoder) encode(w http.ResponseWriter, r *http.Request, res *Result) {
	w.Header().Set("x-ms-version", azureAPIVersion)
	if id := w.Header().Get("X-Request-Id"); id != "" {
		w.Header().Set("x-ms-request-id", id)
	}
	if res.Err != nil {
		writeAzureError(w, res.Err)
		return
	}
	switch res.Op {
	case OpListBuckets:
		out := azureContainerList{ServiceEndpoint: serviceEndpoint(r, "/azure")}
		for _, b := range res.Buckets {
			out.Containers = append(out.Containers, azureContainer{
				Name: b.Name,
				Properties: azureContainerProps{
					LastModified: b.CreatedAt.UTC().Format(http.TimeFormat),
					Etag:         fingerprint.Quote(b.Name),
				},
			})
		}
		writeXML(w, http.StatusOK, out)
	case OpListObjects:
		out := azureBlobList{
			ServiceEndpoint: serviceEndpoint(r, "/azure"),
			ContainerName:   res.Bucket,
			Prefix:          res.Prefix,
			Marker:          res.StartAfter,
			MaxResults:      res.MaxKeys,
		}
		for _, o := range res.Objects {
			out.Blobs = append(out.Blobs, azureBlob{
				Name: o.Key,
				Properties: azureBlobProps{
					CreationTime:  o.Created.UTC().Format(http.TimeFormat),
					LastModified:  o.LastModified.UTC().Format(http.TimeFormat),
					Etag:          fingerprint.Quote(o.Fingerprint),
					ContentLength: o.Size,
					ContentType:   o.ContentType,
					ContentMD5:    contentMD5(o.Fingerprint),
					BlobType:      "BlockBlob",
				},
			})
		}
		if res.Truncated && len(res.Objects) > 0 {
			out.NextMarker = res.Objects[len(res.Objects)-1].Key
		}
		writeXML(w, http.StatusOK, out)
	case OpCreateBucket:
		if !res.Created {
			writeAzureErrorCode(w, http.StatusConflict, "ContainerAlreadyExists", "the specified container already exists")
			return
		}
		w.WriteHeader(http.StatusCreated)
	case OpHeadBucket:
		w.Header().Set("Last-Modified", res.Info.CreatedAt.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
	case OpPutObject:
		h := w.Header()
		h.Set("ETag", fingerprint.Quote(res.Object.Fingerprint))
		h.Set("Last-Modified", res.Object.LastModified.UTC().Format(http.TimeFormat))
		if md5 := contentMD5(res.Object.Fingerprint); md5 != "" {
			h.Set("Content-MD5", md5)
		}
		h.Set("x-ms-request-server-encrypted", "false")
		w.WriteHeader(http.StatusCreated)
	case OpDeleteBucket, OpDeleteObject:
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func writeAzureError(w http.ResponseWriter, err error) {
	code := "InternalError"
	switch classify(err) {
	case kindNoSuchKey:
		code = "BlobNotFound"
	case kindNoSuchBucket:
		code = "ContainerNotFound"
	case kindRange:
		code = "InvalidRange"
	case kindBadRequest:
		code = "InvalidInput"
	case kindMethod, kindConflict:
		code = "UnsupportedHttpVerb"
	}
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		code = "ServerBusy"
	}
	writeAzureErrorCode(w, status, code, publicMessage(err))
}

func writeAzureErrorCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("x-ms-error-code", code)
	writeXML(w, status, azureError{Code: code, Message: message})
}

func (azureEncoder) objectHeaders(h http.Header, meta metadata.ObjectMeta) {
	h.Set("x-ms-version", azureAPIVersion)
	h.Set("x-ms-blob-type", "BlockBlob")
	h.Set("x-ms-creation-time", meta.Created.UTC().Format(http.TimeFormat))
	if md5 := contentMD5(meta.Fingerprint); md5 != "" {
		h.Set("Content-MD5", md5)
	}
}

func (azureEncoder) listRequest(r *http.Request) listRequest {
	q := r.URL.Query()
	return listRequest{
		opts: objstore.ListOptions{
			Prefix:     q.Get("prefix"),
			StartAfter: q.Get("marker"),
			MaxKeys:    queryInt(r, "maxresults", azureDefaultMaxResults, azureDefaultMaxResults),
		},
		depth: 1,
	}
}
