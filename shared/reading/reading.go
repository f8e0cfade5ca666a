// Package reading defines the production reading exchanged over Kafka
// between the simulator and the stream ingester.
package reading

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fastjson"
)

// Topic is the Kafka topic readings are published to.
const Topic = "production.readings"

var (
	// ErrInvalid is returned for readings missing required fields.
	ErrInvalid = errors.New("reading: invalid")

	parserPool = sync.Pool{New: func() interface{} { return &fastjson.Parser{} }}
	arenaPool  = sync.Pool{New: func() interface{} { return &fastjson.Arena{} }}
)

// Reading is one machine's output over one simulator tick.
type Reading struct {
	EquipmentID string
	TS          time.Time
	Produced    int64
	Efficiency  float64
	Status      string
}

// Key is the Kafka message key, so one machine's readings stay ordered
// within a partition.
func (r Reading) Key() []byte {
	return []byte(r.EquipmentID)
}

// Validate checks required fields.
func (r Reading) Validate() error {
	switch {
	case r.EquipmentID == "":
		return fmt.Errorf("%w: empty equipment_id", ErrInvalid)
	case r.TS.IsZero():
		return fmt.Errorf("%w: missing ts", ErrInvalid)
	case r.Produced < 0:
		return fmt.Errorf("%w: negative produced %d", ErrInvalid, r.Produced)
	case r.Status == "":
		return fmt.Errorf("%w: empty status", ErrInvalid)
	}
	return nil
}

// Marshal appends the JSON encoding of r to dst.
func (r Reading) Marshal(dst []byte) []byte {
	a := arenaPool.Get().(*fastjson.Arena)
	defer func() {
		a.Reset()
		arenaPool.Put(a)
	}()

	o := a.NewObject()
	o.Set("equipment_id", a.NewString(r.EquipmentID))
	o.Set("ts", a.NewString(r.TS.UTC().Format(time.RFC3339Nano)))
	o.Set("produced", a.NewNumberInt(int(r.Produced)))
	o.Set("efficiency", a.NewNumberFloat64(r.Efficiency))
	o.Set("status", a.NewString(r.Status))
	return o.MarshalTo(dst)
}

// Parse decodes and validates one message value.
func Parse(data []byte) (Reading, error) {
	p := parserPool.Get().(*fastjson.Parser)
	defer parserPool.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, string(v.GetStringBytes("ts")))
	if err != nil {
		return Reading{}, fmt.Errorf("%w: ts: %v", ErrInvalid, err)
	}
	r := Reading{
		EquipmentID: string(v.GetStringBytes("equipment_id")),
		TS:          ts.UTC(),
		Produced:    v.GetInt64("produced"),
		Efficiency:  v.GetFloat64("efficiency"),
		Status:      string(v.GetStringBytes("status")),
	}
	return r, r.Validate()
}
