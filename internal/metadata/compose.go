package metadata

// Composer merges metadata layers into one record per session.
//
// Precedence, low to high: engine defaults, batch-wide overrides,
// session-specific overrides, fields derived from a source header.
type Composer struct {
	batch    *Record
	sessions map[string]Record
}

// NewComposer returns a Composer with the configured override layers.
// batch may be nil and sessions may be empty.
func NewComposer(batch *Record, sessions map[string]Record) *Composer {
	return &Composer{batch: batch, sessions: sessions}
}

// Compose builds a fresh record for sessionID. defaults and derived are
// optional layers and may be nil.
func (c *Composer) Compose(sessionID string, defaults, derived *Record) Record {
	var out Record
	if defaults != nil {
		out.Merge(*defaults)
	}
	if c.batch != nil {
		out.Merge(*c.batch)
	}
	if s, ok := c.sessions[sessionID]; ok {
		out.Merge(s)
	}
	if derived != nil {
		out.Merge(*derived)
	}
	return out
}

// Merge overlays every field that layer defines onto r. Fields that layer
// leaves absent are kept; an empty string or empty list counts as absent,
// so no layer can blank a value set below it. Values are copied so r never
// aliases layer.
func (r *Record) Merge(layer Record) {
	s, ls := &r.Session, layer.Session
	setString(&s.Description, ls.Description)
	setString(&s.Identifier, ls.Identifier)
	setString(&s.StartTime, ls.StartTime)
	setList(&s.Experimenter, ls.Experimenter)
	setList(&s.RelatedPublications, ls.RelatedPublications)
	setString(&s.Institution, ls.Institution)
	setString(&s.Lab, ls.Lab)
	setList(&s.Keywords, ls.Keywords)
	mergeExtra(&s.Extra, ls.Extra)

	sub, lsub := &r.Subject, layer.Subject
	setString(&sub.SubjectID, lsub.SubjectID)
	setString(&sub.Description, lsub.Description)
	setString(&sub.Species, lsub.Species)
	setString(&sub.Genotype, lsub.Genotype)
	setString(&sub.Sex, lsub.Sex)
	setString(&sub.Weight, lsub.Weight)
	setString(&sub.Age, lsub.Age)
	if lsub.AgeDays != nil {
		sub.Age = String(AgeFromDays(*lsub.AgeDays))
	}
	mergeExtra(&sub.Extra, lsub.Extra)

	for _, d := range layer.Devices {
		r.mergeDevice(d)
	}
}

func (r *Record) mergeDevice(d Device) {
	for i := range r.Devices {
		if r.Devices[i].Name == d.Name {
			setString(&r.Devices[i].Description, d.Description)
			setString(&r.Devices[i].Manufacturer, d.Manufacturer)
			return
		}
	}
	nd := Device{Name: d.Name}
	setString(&nd.Description, d.Description)
	setString(&nd.Manufacturer, d.Manufacturer)
	r.Devices = append(r.Devices, nd)
}

func setString(dst **string, src *string) {
	if src == nil || *src == "" {
		return
	}
	v := *src
	*dst = &v
}

func setList(dst *[]string, src []string) {
	if len(src) == 0 {
		return
	}
	*dst = append([]string{}, src...)
}

func mergeExtra(dst *map[string]string, src map[string]string) {
	if len(src) == 0 {
		return
	}
	if *dst == nil {
		*dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		(*dst)[k] = v
	}
}
