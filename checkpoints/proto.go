package checkpoints

import (
	"fmt"
	"math"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout of the protobuf checkpoint format. Repeated scalars are
// packed.
//
//	Checkpoint      1 weights (repeated WeightTensor)  2 training_state
//	                3 optimizer_state                  4 metadata
//	WeightTensor    1 name  2 shape  3 data (float)  4 layer  5 type  6 buffer
//	TrainingState   1 epoch  2 step  3 learning_rate (float)  4 best_miou (double)
//	                5 miou_history (double)
//	OptimizerState  1 type  2 parameters (repeated Param)  3 state_data
//	Param           1 key  2 value (double)
//	OptimizerTensor 1 name  2 shape  3 data (float)  4 state_type
//	Metadata        1 version  2 framework  3 created_at (unix nanos)  4 run_id
//	                5 description  6 tags
const (
	ckptWeights protowire.Number = iota + 1
	ckptTraining
	ckptOptimizer
	ckptMetadata
)

func marshalProto(c *Checkpoint) ([]byte, error) {
	var b []byte
	for _, w := range c.Weights {
		var m []byte
		m = appendString(m, 1, w.Name)
		m = appendPackedInts(m, 2, w.Shape)
		m = appendPackedFloat32s(m, 3, w.Data)
		m = appendString(m, 4, w.Layer)
		m = appendString(m, 5, w.Type)
		if w.Buffer {
			m = appendVarint(m, 6, 1)
		}
		b = appendMessage(b, ckptWeights, m)
	}

	ts := c.TrainingState
	var m []byte
	m = appendVarint(m, 1, uint64(ts.Epoch))
	m = appendVarint(m, 2, uint64(ts.Step))
	m = protowire.AppendTag(m, 3, protowire.Fixed32Type)
	m = protowire.AppendFixed32(m, math.Float32bits(ts.LearningRate))
	m = protowire.AppendTag(m, 4, protowire.Fixed64Type)
	m = protowire.AppendFixed64(m, math.Float64bits(ts.BestMIoU))
	m = appendPackedFloat64s(m, 5, ts.MIoUHistory)
	b = appendMessage(b, ckptTraining, m)

	if st := c.OptimizerState; st != nil {
		var m []byte
		m = appendString(m, 1, st.Type)
		keys := make([]string, 0, len(st.Parameters))
		for k := range st.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, ok := numeric(st.Parameters[k])
			if !ok {
				return nil, fmt.Errorf("optimizer parameter %q has unsupported type %T", k, st.Parameters[k])
			}
			var p []byte
			p = appendString(p, 1, k)
			p = protowire.AppendTag(p, 2, protowire.Fixed64Type)
			p = protowire.AppendFixed64(p, math.Float64bits(v))
			m = appendMessage(m, 2, p)
		}
		for _, t := range st.StateData {
			var tm []byte
			tm = appendString(tm, 1, t.Name)
			tm = appendPackedInts(tm, 2, t.Shape)
			tm = appendPackedFloat32s(tm, 3, t.Data)
			tm = appendString(tm, 4, t.StateType)
			m = appendMessage(m, 3, tm)
		}
		b = appendMessage(b, ckptOptimizer, m)
	}

	md := c.Metadata
	m = m[:0]
	m = appendString(m, 1, md.Version)
	m = appendString(m, 2, md.Framework)
	if !md.CreatedAt.IsZero() {
		m = appendVarint(m, 3, uint64(md.CreatedAt.UnixNano()))
	}
	m = appendString(m, 4, md.RunID)
	m = appendString(m, 5, md.Description)
	for _, tag := range md.Tags {
		m = protowire.AppendTag(m, 6, protowire.BytesType)
		m = protowire.AppendString(m, tag)
	}
	b = appendMessage(b, ckptMetadata, m)
	return b, nil
}

func unmarshalProto(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	err := walk(b, func(f field) error {
		switch f.num {
		case ckptWeights:
			w, err := decodeWeight(f.b)
			if err != nil {
				return fmt.Errorf("weight %d: %w", len(c.Weights), err)
			}
			c.Weights = append(c.Weights, w)
		case ckptTraining:
			return decodeTraining(f.b, &c.TrainingState)
		case ckptOptimizer:
			st, err := decodeOptimizer(f.b)
			if err != nil {
				return fmt.Errorf("optimizer state: %w", err)
			}
			c.OptimizerState = st
		case ckptMetadata:
			return decodeMetadata(f.b, &c.Metadata)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func decodeWeight(b []byte) (WeightTensor, error) {
	var w WeightTensor
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			w.Name = string(f.b)
		case 2:
			w.Shape, err = unpackInts(f, w.Shape)
		case 3:
			w.Data, err = unpackFloat32s(f, w.Data)
		case 4:
			w.Layer = string(f.b)
		case 5:
			w.Type = string(f.b)
		case 6:
			w.Buffer = f.v != 0
		}
		return err
	})
	return w, err
}

func decodeTraining(b []byte, ts *TrainingState) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			ts.Epoch = int(f.v)
		case 2:
			ts.Step = int(f.v)
		case 3:
			ts.LearningRate = math.Float32frombits(uint32(f.v))
		case 4:
			ts.BestMIoU = math.Float64frombits(f.v)
		case 5:
			ts.MIoUHistory, err = unpackFloat64s(f, ts.MIoUHistory)
		}
		return err
	})
}

func decodeOptimizer(b []byte) (*OptimizerState, error) {
	st := &OptimizerState{Parameters: map[string]interface{}{}}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			st.Type = string(f.b)
		case 2:
			var key string
			var val float64
			err := walk(f.b, func(p field) error {
				switch p.num {
				case 1:
					key = string(p.b)
				case 2:
					val = math.Float64frombits(p.v)
				}
				return nil
			})
			if err != nil {
				return err
			}
			st.Parameters[key] = val
		case 3:
			var t OptimizerTensor
			err := walk(f.b, func(p field) error {
				var err error
				switch p.num {
				case 1:
					t.Name = string(p.b)
				case 2:
					t.Shape, err = unpackInts(p, t.Shape)
				case 3:
					t.Data, err = unpackFloat32s(p, t.Data)
				case 4:
					t.StateType = string(p.b)
				}
				return err
			})
			if err != nil {
				return err
			}
			st.StateData = append(st.StateData, t)
		}
		return nil
	})
	return st, err
}

func decodeMetadata(b []byte, md *CheckpointMetadata) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			md.Version = string(f.b)
		case 2:
			md.Framework = string(f.b)
		case 3:
			md.CreatedAt = time.Unix(0, int64(f.v)).UTC()
		case 4:
			md.RunID = string(f.b)
		case 5:
			md.Description = string(f.b)
		case 6:
			md.Tags = append(md.Tags, string(f.b))
		}
		return nil
	})
}

// numeric converts an optimizer hyperparameter to a double.
func numeric(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// field is one decoded key/value pair. Scalar payloads land in v, length
// delimited ones in b.
type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	b   []byte
}

func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.v = uint64(v)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

func appendPackedInts(b []byte, num protowire.Number, vs []int) []byte {
	if len(vs) == 0 {
		return b
	}
	var p []byte
	for _, v := range vs {
		p = protowire.AppendVarint(p, uint64(v))
	}
	return appendMessage(b, num, p)
}

func appendPackedFloat32s(b []byte, num protowire.Number, vs []float32) []byte {
	if len(vs) == 0 {
		return b
	}
	p := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		p = protowire.AppendFixed32(p, math.Float32bits(v))
	}
	return appendMessage(b, num, p)
}

func appendPackedFloat64s(b []byte, num protowire.Number, vs []float64) []byte {
	if len(vs) == 0 {
		return b
	}
	p := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		p = protowire.AppendFixed64(p, math.Float64bits(v))
	}
	return appendMessage(b, num, p)
}

// unpackInts appends a packed or unpacked repeated varint field to dst.
func unpackInts(f field, dst []int) ([]int, error) {
	if f.typ == protowire.VarintType {
		return append(dst, int(f.v)), nil
	}
	for b := f.b; len(b) > 0; {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		dst = append(dst, int(v))
		b = b[n:]
	}
	return dst, nil
}

func unpackFloat32s(f field, dst []float32) ([]float32, error) {
	if f.typ == protowire.Fixed32Type {
		return append(dst, math.Float32frombits(uint32(f.v))), nil
	}
	for b := f.b; len(b) > 0; {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		dst = append(dst, math.Float32frombits(v))
		b = b[n:]
	}
	return dst, nil
}

func unpackFloat64s(f field, dst []float64) ([]float64, error) {
	if f.typ == protowire.Fixed64Type {
		return append(dst, math.Float64frombits(f.v)), nil
	}
	for b := f.b; len(b) > 0; {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		dst = append(dst, math.Float64frombits(v))
		b = b[n:]
	}
	return dst, nil
}
