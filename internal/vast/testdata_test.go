package vast

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

const inlineTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<VAST version="2.0">
  <Ad id="inline-1">
    <InLine>
      <AdSystem>TestServer</AdSystem>
      <AdTitle>Inline Ad</AdTitle>
      <Error><![CDATA[%[1]s/error/inline?code=[ERRORCODE]]]></Error>
      <Impression><![CDATA[%[1]s/imp/inline]]></Impression>
      <Impression>not a url</Impression>
      <Creatives>
        <Creative sequence="1">
          <CompanionAds/>
        </Creative>
        <Creative sequence="2">
          <Linear>
            <Duration>00:00:10.500</Duration>
            <TrackingEvents>
              <Tracking event="start"><![CDATA[%[1]s/track/start/a]]></Tracking>
              <Tracking event="start"><![CDATA[%[1]s/track/start/b]]></Tracking>
              <Tracking event="firstQuartile">%[1]s/track/q1</Tracking>
              <Tracking event="midpoint">%[1]s/track/mid</Tracking>
              <Tracking event="thirdQuartile">%[1]s/track/q3</Tracking>
              <Tracking event="complete">%[1]s/track/complete</Tracking>
              <Tracking event="pause">%[1]s/track/pause</Tracking>
              <Tracking event="resume">%[1]s/track/resume</Tracking>
              <Tracking event="close">%[1]s/track/close</Tracking>
              <Tracking event="mute">%[1]s/track/mute</Tracking>
              <Tracking event="complete">javascript:alert(1)</Tracking>
            </TrackingEvents>
            <VideoClicks>
              <ClickThrough>https://advertiser.example/landing</ClickThrough>
              <ClickTracking>%[1]s/click/inline</ClickTracking>
            </VideoClicks>
            <MediaFiles>
              <MediaFile delivery="progressive" type="video/webm" bitrate="4000" width="1280" height="720">https://cdn.example/high.webm</MediaFile>
              <MediaFile id="mp4-low" delivery="progressive" type="video/mp4" bitrate="500" width="640" height="360">https://cdn.example/low.mp4</MediaFile>
              <MediaFile delivery="progressive" type="video/mp4" bitrate="1500" width="1280" height="720"><![CDATA[ https://cdn.example/mid.mp4 ]]></MediaFile>
              <MediaFile delivery="streaming" type="video/mp4" bitrate="9000" width="1920" height="1080">::bad::</MediaFile>
            </MediaFiles>
          </Linear>
        </Creative>
      </Creatives>
      <Extensions><Extension type="unknown"><Anything/></Extension></Extensions>
    </InLine>
  </Ad>
</VAST>`

const wrapperTemplate = `<VAST version="2.0">
  <Ad id="%[2]s">
    <Wrapper>
      <AdSystem>Wrapper %[2]s</AdSystem>
      <VASTAdTagURI><![CDATA[%[3]s]]></VASTAdTagURI>
      <Error>%[1]s/error/%[2]s?code=[ERRORCODE]</Error>
      <Impression>%[1]s/imp/%[2]s</Impression>
      <Creatives>
        <Creative>
          <Linear>
            <TrackingEvents>
              <Tracking event="start">%[1]s/track/start/%[2]s</Tracking>
            </TrackingEvents>
            <VideoClicks>
              <ClickTracking>%[1]s/click/%[2]s</ClickTracking>
            </VideoClicks>
          </Linear>
        </Creative>
      </Creatives>
    </Wrapper>
  </Ad>
</VAST>`

func inlineXML(base string) string {
	return fmt.Sprintf(inlineTemplate, base)
}

func wrapperXML(base, name, target string) string {
	return fmt.Sprintf(wrapperTemplate, base, name, target)
}

// docServer serves VAST documents by path and counts requests.
type docServer struct {
	*httptest.Server

	mu     sync.Mutex
	docs   map[string]string
	hits   map[string]int
	agents []string
}

func newDocServer(t *testing.T) *docServer {
	t.Helper()
	ds := &docServer{docs: make(map[string]string), hits: make(map[string]int)}
	ds.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ds.mu.Lock()
		ds.hits[r.URL.Path]++
		ds.agents = append(ds.agents, r.UserAgent())
		body, ok := ds.docs[r.URL.Path]
		ds.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ds.Close)
	return ds
}

func (ds *docServer) set(path, body string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.docs[path] = body
}

func (ds *docServer) total() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	n := 0
	for _, c := range ds.hits {
		n += c
	}
	return n
}

func (ds *docServer) count(path string) int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.hits[path]
}

func (ds *docServer) userAgents() []string {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return append([]string(nil), ds.agents...)
}
