package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
)

// RemoteCalendar is one calendar collection discovered on a CalDAV server.
type RemoteCalendar struct {
	Path string
	Name string
}

// CalDAVClient lists a server's calendar collections and fetches their
// event objects as raw ICS payloads.
type CalDAVClient interface {
	ListCalendars(ctx context.Context) ([]RemoteCalendar, error)
	FetchObjects(ctx context.Context, calendarPath string) ([][]byte, error)
}

// CalDAVDialer opens a CalDAV connection for one source. Injected into the
// sync engine so tests can substitute a fake server.
type CalDAVDialer func(serverURL, username, password string) (CalDAVClient, error)

// WebDAVCalDAVClient implements CalDAVClient on emersion/go-webdav.
type WebDAVCalDAVClient struct {
	client *caldav.Client
}

// NewCalDAVClient connects to a CalDAV endpoint, with Basic auth when a
// username is given.
func NewCalDAVClient(serverURL, username, password string) (CalDAVClient, error) {
	var hc webdav.HTTPClient = http.DefaultClient
	if username != "" {
		hc = webdav.HTTPClientWithBasicAuth(http.DefaultClient, username, password)
	}
	client, err := caldav.NewClient(hc, serverURL)
	if err != nil {
		return nil, fmt.Errorf("caldav: connect %s: %w", serverURL, err)
	}
	return &WebDAVCalDAVClient{client: client}, nil
}

// ListCalendars walks principal → calendar home set → calendar collections.
func (c *WebDAVCalDAVClient) ListCalendars(ctx context.Context) ([]RemoteCalendar, error) {
	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("caldav: find principal: %w", err)
	}
	homeSet, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("caldav: find home set: %w", err)
	}
	cals, err := c.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("caldav: list calendars: %w", err)
	}

	out := make([]RemoteCalendar, 0, len(cals))
	for _, cal := range cals {
		out = append(out, RemoteCalendar{Path: cal.Path, Name: cal.Name})
	}
	return out, nil
}

// FetchObjects runs a calendar-query for VEVENTs and re-encodes each object
// to raw ICS bytes, so the materializer's parser stays the single place
// calendar data is interpreted.
func (c *WebDAVCalDAVClient) FetchObjects(ctx context.Context, calendarPath string) ([][]byte, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name:  "VCALENDAR",
			Comps: []caldav.CompFilter{{Name: "VEVENT"}},
		},
	}

	objs, err := c.client.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("caldav: query %s: %w", calendarPath, err)
	}

	out := make([][]byte, 0, len(objs))
	for _, obj := range objs {
		if obj.Data == nil {
			continue
		}
		var buf bytes.Buffer
		if err := ical.NewEncoder(&buf).Encode(obj.Data); err != nil {
			// Skip an unencodable object, keep its siblings.
			continue
		}
		out = append(out, buf.Bytes())
	}
	return out, nil
}
