// Package thingtest runs an in-process reference lamp for tests.
//
// The lamp serves the HTTP surface and the duplex channel of a web thing in
// either dialect, driven by a capability fixture. Options switch on the
// idiosyncrasies real things exhibit, and a few outright bugs, so every
// validator can be exercised end to end.
package thingtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/webthings/thingcheck/internal/dialect"
	"github.com/webthings/thingcheck/internal/fixture"
	"github.com/webthings/thingcheck/internal/thing"
	"github.com/webthings/thingcheck/internal/transport"
)

// Options configure the lamp.
type Options struct {
	Dialect    *dialect.Dialect
	Fixture    *fixture.Fixture
	PathPrefix string

	// TimeScale multiplies action durations. Zero means 0.01.
	TimeScale float64

	// AuthToken, when set, is required as a bearer header or ?jwt= query.
	AuthToken string

	// EndedKey names the end timestamp key; "timeEnded" when empty.
	EndedKey string

	// GroupedCollection renders /actions as {name: [instance]} instead of
	// [{name: instance}].
	GroupedCollection bool

	// WrapInstance renders /actions/{name}/{id} as {name: instance}.
	WrapInstance bool

	// ExtraPropertyStatus sends an unsolicited propertyStatus before the
	// created status of duplex-requested actions.
	ExtraPropertyStatus bool

	// CompletedFirst notifies completion before the property change.
	CompletedFirst bool

	// DuplicateCompleted notifies completion twice.
	DuplicateCompleted bool

	// AcceptInvalidInput creates instances for inputs missing required fields.
	AcceptInvalidInput bool

	// WriteOffset is added to every integer written over HTTP.
	WriteOffset int

	// OmitTimestamps leaves timeRequested out of every instance document.
	OmitTimestamps bool

	// UnstampedCreate leaves timeRequested out of the created response only.
	UnstampedCreate bool

	// BadTimestamps renders timestamps without a zone offset.
	BadTimestamps bool

	// KeepDeleted acknowledges DELETE without removing the instance.
	KeepDeleted bool

	// EventData overrides the payload of emitted events.
	EventData any

	// Mutate edits the description document before it is served.
	Mutate func(td map[string]any)
}

type instance struct {
	name          string
	id            string
	href          string
	input         map[string]any
	status        thing.ActionStatus
	timeRequested string
	timeEnded     string
}

type occurrence struct {
	name      string
	data      any
	timestamp string
}

type subscriber struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	events map[string]bool
}

// Lamp is a running reference thing.
type Lamp struct {
	opts    Options
	server  *httptest.Server
	dialect *dialect.Dialect
	fixture *fixture.Fixture

	mu          sync.Mutex
	values      map[string]any
	instances   []*instance
	events      []occurrence
	completions int
	subscribers map[*subscriber]bool
	wg          sync.WaitGroup
}

// New starts a lamp.
func New(opts Options) *Lamp {
	if opts.Dialect == nil {
		opts.Dialect = dialect.MustParse(string(dialect.Webthings))
	}
	if opts.Fixture == nil {
		opts.Fixture = fixture.Default()
	}
	if opts.TimeScale == 0 {
		opts.TimeScale = 0.01
	}
	if opts.EndedKey == "" {
		opts.EndedKey = "timeEnded"
	}

	l := &Lamp{
		opts:        opts,
		dialect:     opts.Dialect,
		fixture:     opts.Fixture,
		values:      opts.Fixture.InitialValues(),
		subscribers: make(map[*subscriber]bool),
	}

	thingRouter := chi.NewRouter()
	thingRouter.Use(l.authorize)
	thingRouter.Get("/", l.serveRoot)
	thingRouter.Get("/properties", l.getProperties)
	thingRouter.Get("/properties/{name}", l.getProperty)
	thingRouter.Put("/properties/{name}", l.putProperty)
	thingRouter.Get("/actions", l.getActions)
	thingRouter.Get("/actions/{name}", l.getActions)
	thingRouter.Post("/actions/{name}", l.postAction)
	thingRouter.Get("/actions/{name}/{id}", l.getInstance)
	thingRouter.Delete("/actions/{name}/{id}", l.deleteInstance)
	thingRouter.Get("/events", l.getEvents)
	thingRouter.Get("/events/{name}", l.getEvents)

	r := chi.NewRouter()
	mount := opts.PathPrefix
	if mount == "" {
		mount = "/"
	}
	r.Mount(mount, thingRouter)

	l.server = httptest.NewServer(r)
	return l
}

// Close stops the lamp and waits for running actions.
func (l *Lamp) Close() {
	l.server.CloseClientConnections()
	l.mu.Lock()
	for s := range l.subscribers {
		_ = s.conn.Close()
	}
	l.mu.Unlock()
	l.wg.Wait()
	l.server.Close()
}

// URL returns the lamp's base URL.
func (l *Lamp) URL() string {
	return l.server.URL
}

// Config returns a transport configuration addressing the lamp.
func (l *Lamp) Config() transport.Config {
	u, _ := url.Parse(l.server.URL)
	port, _ := strconv.Atoi(u.Port())
	cfg := transport.Config{
		Protocol:   "http",
		Host:       u.Hostname(),
		Port:       port,
		PathPrefix: l.opts.PathPrefix,
		Timeout:    5 * time.Second,
	}
	if l.opts.AuthToken != "" {
		cfg.AuthHeader = "Bearer " + l.opts.AuthToken
	}
	return cfg
}

// Value returns the current value of a property.
func (l *Lamp) Value(name string) any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.values[name]
}

// Instances returns the number of live action instances.
func (l *Lamp) Instances() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.instances)
}

// Emitted returns the number of events emitted so far.
func (l *Lamp) Emitted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Wait blocks until every running action has completed.
func (l *Lamp) Wait() {
	l.wg.Wait()
}

func (l *Lamp) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.opts.AuthToken == "" ||
			r.Header.Get("Authorization") == "Bearer "+l.opts.AuthToken ||
			r.URL.Query().Get("jwt") == l.opts.AuthToken {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func (l *Lamp) now() string {
	if l.opts.BadTimestamps {
		return time.Now().UTC().Format("2006-01-02T15:04:05")
	}
	return thing.FormatTimestamp(time.Now().UTC())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (l *Lamp) serveRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		l.serveDuplex(w, r)
		return
	}
	writeJSON(w, http.StatusOK, l.Description(r.Host))
}

func (l *Lamp) link(rel, href string) map[string]any {
	link := map[string]any{l.dialect.Key(dialect.FieldHref): href}
	if rel != "" {
		link[l.dialect.Key(dialect.FieldRel)] = rel
	}
	return link
}

// Description renders the description document as served to host.
func (l *Lamp) Description(host string) map[string]any {
	fx := l.fixture
	prefix := l.opts.PathPrefix
	linksKey := l.dialect.Key(dialect.FieldLinks)

	descriptorLink := func(rel, href string) []any {
		if l.dialect.RelTagged() {
			return []any{l.link(rel, href)}
		}
		return []any{l.link("", href)}
	}

	props := make(map[string]any)
	for name, p := range fx.Properties {
		d := map[string]any{
			"@type":       p.SemanticType,
			"title":       p.Title,
			"type":        p.Type,
			"description": p.Description,
			linksKey:      descriptorLink("property", prefix+"/properties/"+name),
		}
		if p.Minimum != nil {
			d["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			d["maximum"] = *p.Maximum
		}
		if p.Unit != "" {
			d["unit"] = p.Unit
		}
		props[name] = d
	}

	td := map[string]any{
		"@context":            "https://webthings.io/schemas",
		"@type":               fx.Types,
		"id":                  fx.ID,
		"title":               fx.Title,
		"description":         fx.Description,
		"security":            fx.Security,
		"securityDefinitions": map[string]any{fx.Security: map[string]any{"scheme": fx.SecurityScheme}},
		"properties":          props,
	}

	rootLinks := []any{l.link("properties", prefix+"/properties")}

	if len(fx.Actions) > 0 {
		actions := make(map[string]any)
		for name, a := range fx.Actions {
			inputProps := make(map[string]any)
			for field, in := range a.Input {
				p := map[string]any{"type": in.Type}
				if in.Minimum != nil {
					p["minimum"] = *in.Minimum
				}
				if in.Maximum != nil {
					p["maximum"] = *in.Maximum
				}
				if in.Unit != "" {
					p["unit"] = in.Unit
				}
				inputProps[field] = p
			}
			actions[name] = map[string]any{
				"title":       a.Title,
				"description": a.Description,
				"input":       map[string]any{"type": "object", "properties": inputProps},
				linksKey:      descriptorLink("action", prefix+"/actions/"+name),
			}
		}
		td["actions"] = actions
		rootLinks = append(rootLinks, l.link("actions", prefix+"/actions"))
	}

	if len(fx.Events) > 0 {
		events := make(map[string]any)
		for name, e := range fx.Events {
			data := map[string]any{"type": e.Type}
			if e.Unit != "" {
				data["unit"] = e.Unit
			}
			events[name] = map[string]any{
				"description": e.Description,
				"data":        data,
				linksKey:      descriptorLink("event", prefix+"/events/"+name),
			}
		}
		td["events"] = events
		rootLinks = append(rootLinks, l.link("events", prefix+"/events"))
	}

	rootLinks = append(rootLinks, l.link("alternate", "ws://"+host+prefix))
	html := l.link("alternate", prefix)
	html[l.dialect.Key(dialect.FieldMediaType)] = "text/html"
	rootLinks = append(rootLinks, html)
	td[linksKey] = rootLinks

	if l.opts.Mutate != nil {
		// Round-trip so Mutate sees plain JSON values.
		data, _ := json.Marshal(td)
		var plain map[string]any
		_ = json.Unmarshal(data, &plain)
		l.opts.Mutate(plain)
		return plain
	}
	return td
}

func (l *Lamp) getProperties(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	values := make(map[string]any, len(l.values))
	for k, v := range l.values {
		values[k] = v
	}
	l.mu.Unlock()
	writeJSON(w, http.StatusOK, values)
}

func (l *Lamp) getProperty(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	l.mu.Lock()
	v, ok := l.values[name]
	l.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, l.dialect.EncodePropertyValue(name, v))
}

func (l *Lamp) putProperty(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := l.fixture.Properties[name]
	if !ok {
		http.NotFound(w, r)
		return
	}

	var body any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	v, err := l.dialect.DecodePropertyValue(name, body)
	if err != nil || !thing.ConformsTo(p.Type, v) {
		http.Error(w, "invalid value", http.StatusBadRequest)
		return
	}
	if n, isNum := v.(float64); isNum && l.opts.WriteOffset != 0 {
		v = n + float64(l.opts.WriteOffset)
	}

	l.setProperty(name, v)
	w.WriteHeader(http.StatusNoContent)
}

func (l *Lamp) setProperty(name string, v any) {
	l.mu.Lock()
	l.values[name] = v
	l.mu.Unlock()
	l.broadcast(transport.MsgPropertyStatus, map[string]any{name: v}, "")
}

func (l *Lamp) instanceDoc(in *instance) map[string]any {
	doc := map[string]any{
		"href":   in.href,
		"input":  in.input,
		"output": in.input,
		"status": in.status.String(),
	}
	if !l.opts.OmitTimestamps {
		doc["timeRequested"] = in.timeRequested
	}
	if in.timeEnded != "" {
		doc[l.opts.EndedKey] = in.timeEnded
	}
	return doc
}

func (l *Lamp) getActions(w http.ResponseWriter, r *http.Request) {
	filter := chi.URLParam(r, "name")

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.opts.GroupedCollection {
		grouped := make(map[string]any)
		for _, in := range l.instances {
			if filter != "" && in.name != filter {
				continue
			}
			list, _ := grouped[in.name].([]any)
			grouped[in.name] = append(list, l.instanceDoc(in))
		}
		writeJSON(w, http.StatusOK, grouped)
		return
	}

	list := []any{}
	for _, in := range l.instances {
		if filter != "" && in.name != filter {
			continue
		}
		list = append(list, map[string]any{in.name: l.instanceDoc(in)})
	}
	writeJSON(w, http.StatusOK, list)
}

func (l *Lamp) postAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var input map[string]any
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	doc, status := l.requestAction(name, input)
	if doc == nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// requestAction validates input and starts an instance. It returns the
// created instance document or the status rejecting the request.
func (l *Lamp) requestAction(name string, input map[string]any) (map[string]any, int) {
	action, ok := l.fixture.Actions[name]
	if !ok {
		return nil, http.StatusNotFound
	}
	if !l.opts.AcceptInvalidInput {
		for _, required := range action.Required {
			if _, ok := input[required]; !ok {
				return nil, http.StatusBadRequest
			}
		}
		for field, v := range input {
			spec, ok := action.Input[field]
			if ok && !thing.ConformsTo(spec.Type, v) {
				return nil, http.StatusBadRequest
			}
		}
	}

	id := uuid.NewString()
	in := &instance{
		name:          name,
		id:            id,
		href:          l.opts.PathPrefix + "/actions/" + name + "/" + id,
		input:         input,
		status:        thing.StatusCreated,
		timeRequested: l.now(),
	}

	l.mu.Lock()
	l.instances = append(l.instances, in)
	doc := l.instanceDoc(in)
	l.mu.Unlock()
	if l.opts.UnstampedCreate {
		delete(doc, "timeRequested")
	}

	l.wg.Add(1)
	go l.perform(in)
	return doc, 0
}

func (l *Lamp) notifyInstance(in *instance) {
	l.mu.Lock()
	doc := l.instanceDoc(in)
	l.mu.Unlock()
	l.broadcast(transport.MsgActionStatus, map[string]any{in.name: doc}, "")
}

func (l *Lamp) perform(in *instance) {
	defer l.wg.Done()

	l.notifyInstance(in)

	l.mu.Lock()
	in.status = thing.StatusPending
	l.mu.Unlock()
	l.notifyInstance(in)

	duration := 0.0
	if d, ok := in.input["duration"].(float64); ok {
		duration = d
	}
	time.Sleep(time.Duration(duration * l.opts.TimeScale * float64(time.Millisecond)))

	complete := func() {
		l.mu.Lock()
		in.status = thing.StatusCompleted
		in.timeEnded = l.now()
		l.mu.Unlock()
		l.notifyInstance(in)
		if l.opts.DuplicateCompleted {
			l.notifyInstance(in)
		}
	}

	target, value, drives := l.fixture.ActionTarget(in.input)
	if l.opts.CompletedFirst {
		complete()
	}
	if drives {
		l.setProperty(target, value)
	}
	for n := l.emissions(); n > 0; n-- {
		l.emit()
	}
	if !l.opts.CompletedFirst {
		complete()
	}
}

// emissions returns how many events the next completed action raises. When
// the fixture pins the log length, the first action raises the surplus so the
// log reaches that length after the HTTP and duplex actions.
func (l *Lamp) emissions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completions++
	s := l.fixture.Scenario
	if l.completions == 1 && s.EventLogLength > s.EventsPerAction {
		return s.EventLogLength - s.EventsPerAction
	}
	return s.EventsPerAction
}

func (l *Lamp) emit() {
	name := l.fixture.Scenario.Event
	if name == "" {
		return
	}
	data := l.fixture.Scenario.EventValue
	if l.opts.EventData != nil {
		data = l.opts.EventData
	}
	occ := occurrence{name: name, data: data, timestamp: l.now()}

	l.mu.Lock()
	l.events = append(l.events, occ)
	l.mu.Unlock()

	l.broadcast(transport.MsgEvent, map[string]any{
		name: map[string]any{"data": occ.data, "timestamp": occ.timestamp},
	}, name)
}

func (l *Lamp) lookup(r *http.Request) (*instance, int) {
	name, id := chi.URLParam(r, "name"), chi.URLParam(r, "id")
	for i, in := range l.instances {
		if in.name == name && in.id == id {
			return in, i
		}
	}
	return nil, -1
}

func (l *Lamp) getInstance(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()

	in, _ := l.lookup(r)
	if in == nil {
		http.NotFound(w, r)
		return
	}
	doc := l.instanceDoc(in)
	if l.opts.WrapInstance {
		writeJSON(w, http.StatusOK, map[string]any{in.name: doc})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (l *Lamp) deleteInstance(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()

	in, i := l.lookup(r)
	if in == nil {
		http.NotFound(w, r)
		return
	}
	if !l.opts.KeepDeleted {
		l.instances = append(l.instances[:i], l.instances[i+1:]...)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (l *Lamp) getEvents(w http.ResponseWriter, r *http.Request) {
	filter := chi.URLParam(r, "name")

	l.mu.Lock()
	defer l.mu.Unlock()

	list := []any{}
	for _, occ := range l.events {
		if filter != "" && occ.name != filter {
			continue
		}
		list = append(list, map[string]any{
			occ.name: map[string]any{"data": occ.data, "timestamp": occ.timestamp},
		})
	}
	writeJSON(w, http.StatusOK, list)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (l *Lamp) serveDuplex(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s := &subscriber{conn: conn, events: make(map[string]bool)}

	l.mu.Lock()
	l.subscribers[s] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.subscribers, s)
		l.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var env map[string]any
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		kind, _ := env[l.dialect.Key(dialect.FieldMessageType)].(string)
		data, _ := env[l.dialect.Key(dialect.FieldMessageData)].(map[string]any)
		l.handleMessage(s, kind, data)
	}
}

func (l *Lamp) handleMessage(s *subscriber, kind string, data map[string]any) {
	switch kind {
	case transport.MsgSetProperty:
		for name, v := range data {
			if p, ok := l.fixture.Properties[name]; ok && thing.ConformsTo(p.Type, v) {
				l.setProperty(name, v)
			}
		}
	case transport.MsgRequestAction:
		for name, raw := range data {
			input, _ := raw.(map[string]any)
			if l.opts.ExtraPropertyStatus {
				l.mu.Lock()
				values := make(map[string]any, len(l.values))
				for k, v := range l.values {
					values[k] = v
				}
				l.mu.Unlock()
				s.send(transport.MsgPropertyStatus, values, l.dialect)
			}
			if _, status := l.requestAction(name, input); status != 0 {
				s.send("error", map[string]any{"status": strconv.Itoa(status), "message": fmt.Sprintf("cannot request %s", name)}, l.dialect)
			}
		}
	case transport.MsgAddEventSubscription:
		s.mu.Lock()
		for name := range data {
			s.events[name] = true
		}
		s.mu.Unlock()
	}
}

// broadcast notifies every subscriber, or only those subscribed to event.
func (l *Lamp) broadcast(kind string, data map[string]any, event string) {
	l.mu.Lock()
	subs := make([]*subscriber, 0, len(l.subscribers))
	for s := range l.subscribers {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	for _, s := range subs {
		if event != "" {
			s.mu.Lock()
			subscribed := s.events[event]
			s.mu.Unlock()
			if !subscribed {
				continue
			}
		}
		s.send(kind, data, l.dialect)
	}
}

func (s *subscriber) send(kind string, data map[string]any, d *dialect.Dialect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteJSON(map[string]any{
		d.Key(dialect.FieldMessageType): kind,
		d.Key(dialect.FieldMessageData): data,
	})
}
