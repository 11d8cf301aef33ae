package docstore

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// buildUpdate translates merge fields into a Mongo update document:
// plain values go to $set, ArrayUnion to $addToSet/$each, ArrayRemove to $pull/$in.
func buildUpdate(fields map[string]any) bson.M {
	set := bson.M{}
	add := bson.M{}
	pull := bson.M{}
	for k, v := range fields {
		tr, ok := v.(Transform)
		if !ok {
			set[k] = v
			continue
		}
		vals := bson.A(tr.values)
		if vals == nil {
			vals = bson.A{}
		}
		switch tr.op {
		case opUnion:
			add[k] = bson.M{"$each": vals}
		case opRemove:
			pull[k] = bson.M{"$in": vals}
		}
	}
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(add) > 0 {
		update["$addToSet"] = add
	}
	if len(pull) > 0 {
		update["$pull"] = pull
	}
	return update
}

func buildFilter(filters []Filter) bson.D {
	d := bson.D{}
	for _, f := range filters {
		d = append(d, bson.E{Key: f.Field, Value: f.Value})
	}
	return d
}

// fromBSON converts driver values (bson.M, bson.D, bson.A, numeric kinds)
// into the generic JSON form used by Snapshot.
func fromBSON(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = fromBSON(x)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = fromBSON(x)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = fromBSON(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = fromBSON(x)
		}
		return out
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	default:
		return t
	}
}

func docToSnapshot(raw bson.M) Snapshot {
	id := ""
	switch v := raw["_id"].(type) {
	case string:
		id = v
	case primitive.ObjectID:
		id = v.Hex()
	}
	data := fromBSON(raw).(map[string]any)
	delete(data, "_id")
	return Snapshot{ID: id, Exists: true, Data: data}
}
