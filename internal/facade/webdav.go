package facade

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eniz1806/omnistore/internal/fingerprint"
	"github.com/eniz1806/omnistore/internal/metadata"
)

type davMultistatus struct {
	XMLName   xml.Name      `xml:"D:multistatus"`
	Xmlns     string        `xml:"xmlns:D,attr"`
	Responses []davResponse `xml:"D:response"`
}

type davResponse struct {
	Href     string      `xml:"D:href"`
	Propstat davPropstat `xml:"D:propstat"`
}

type davPropstat struct {
	Prop   davProp `xml:"D:prop"`
	Status string  `xml:"D:status"`
}

type davResourceType struct {
	Collection *struct{} `xml:"D:collection,omitempty"`
}

type davProp struct {
	DisplayName   string          `xml:"D:displayname"`
	ResourceType  davResourceType `xml:"D:resourcetype"`
	CreationDate  string          `xml:"D:creationdate,omitempty"`
	LastModified  string          `xml:"D:getlastmodified,omitempty"`
	ContentLength string          `xml:"D:getcontentlength,omitempty"`
	ContentType   string          `xml:"D:getcontenttype,omitempty"`
	ETag          string          `xml:"D:getetag,omitempty"`
}

const davStatusOK = "HTTP/1.1 200 OK"

func davHref(bucket, key string) string {
	href := "/webdav/"
	if bucket == "" {
		return href
	}
	href += url.PathEscape(bucket) + "/"
	if key == "" {
		return href
	}
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return href + strings.Join(parts, "/")
}

func davCollection(bucket, name string, created time.Time) davResponse {
	p := davProp{
		DisplayName:  name,
		ResourceType: davResourceType{Collection: &struct{}{}},
	}
	if !created.IsZero() {
		p.CreationDate = created.UTC().Format(time.RFC3339)
		p.LastModified = created.UTC().Format(http.TimeFormat)
	}
	return davResponse{Href: davHref(bucket, ""), Propstat: davPropstat{Prop: p, Status: davStatusOK}}
}

func davObject(o metadata.ObjectMeta) davResponse {
	name := o.Key
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return davResponse{
		Href: davHref(o.Bucket, o.Key),
		Propstat: davPropstat{
			Prop: davProp{
				DisplayName:   name,
				CreationDate:  o.Created.UTC().Format(time.RFC3339),
				LastModified:  o.LastModified.UTC().Format(http.TimeFormat),
				ContentLength: strconv.FormatInt(o.Size, 10),
				ContentType:   o.ContentType,
				ETag:          fingerprint.Quote(o.Fingerprint),
			},
			Status: davStatusOK,
		},
	}
}

func writeMultistatus(w http.ResponseWriter, responses []davResponse) {
	w.Header().Set("Content-Type", `application/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusMultiStatus)
	w.Write([]byte(xml.Header))
	xml.NewEncoder(w).Encode(davMultistatus{Xmlns: "DAV:", Responses: responses})
}

type webdavEncoder struct{}

func (webdavEncoder) encode(w http.ResponseWriter, r *http.Request, res *Result) {
	if res.Err != nil {
		status := statusFor(res.Err)
		http.Error(w, publicMessage(res.Err), status)
		return
	}
	switch res.Op {
	case OpListBuckets:
		out := []davResponse{davCollection("", "", time.Time{})}
		if res.Depth > 0 {
			for _, b := range res.Buckets {
				out = append(out, davCollection(b.Name, b.Name, b.CreatedAt))
			}
		}
		writeMultistatus(w, out)
	case OpListObjects:
		if r.Method == http.MethodGet {
			writeCollectionText(w, res)
			return
		}
		var created time.Time
		if res.Info != nil {
			created = res.Info.CreatedAt
		}
		out := []davResponse{davCollection(res.Bucket, res.Bucket, created)}
		for _, o := range res.Objects {
			out = append(out, davObject(o))
		}
		writeMultistatus(w, out)
	case OpDescribeObject:
		writeMultistatus(w, []davResponse{davObject(*res.Object)})
	case OpCreateBucket:
		w.WriteHeader(http.StatusCreated)
	case OpPutObject:
		w.Header().Set("ETag", fingerprint.Quote(res.Object.Fingerprint))
		if res.Created {
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeCollectionText answers a plain GET on a collection with one line per
// member: name, size and fingerprint separated by tabs.
func writeCollectionText(w http.ResponseWriter, res *Result) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for _, o := range res.Objects {
		fmt.Fprintf(w, "%s\t%d\t%s\n", o.Key, o.Size, o.Fingerprint)
	}
}

func (webdavEncoder) objectHeaders(http.Header, metadata.ObjectMeta) {}

// listRequest reads the Depth header. Missing and "infinity" are clamped to
// 1 since collections are a single level deep.
func (webdavEncoder) listRequest(r *http.Request) listRequest {
	lr := listRequest{depth: 1}
	if r.Method == methodPropfind && strings.TrimSpace(r.Header.Get("Depth")) == "0" {
		lr.depth = 0
	}
	return lr
}
