package transform

// ParamInfo is the serializable view of a Param.
type ParamInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Channel  string `json:"channel"`
	Optional bool   `json:"optional,omitempty"`
	ByRef    bool   `json:"by_ref,omitempty"`
	IsReturn bool   `json:"is_return,omitempty"`
}

// Descriptor is the serializable view of a Transform.
type Descriptor struct {
	Name                 string      `json:"name"`
	Owner                string      `json:"owner"`
	Method               string      `json:"method"`
	Inputs               []ParamInfo `json:"inputs"`
	Outputs              []ParamInfo `json:"outputs"`
	AllowsMultipleInputs bool        `json:"allows_multiple_inputs,omitempty"`
}

func (t *Transform) Describe() Descriptor {
	d := Descriptor{
		Name:                 t.Name(),
		Owner:                t.Owner,
		Method:               t.Method,
		Inputs:               make([]ParamInfo, 0, len(t.Inputs)),
		Outputs:              make([]ParamInfo, 0, len(t.Outputs)),
		AllowsMultipleInputs: t.AllowsMultipleInputs,
	}
	for _, p := range t.Inputs {
		d.Inputs = append(d.Inputs, t.info(p))
	}
	for _, p := range t.Outputs {
		d.Outputs = append(d.Outputs, t.info(p))
	}
	return d
}

func (t *Transform) info(p Param) ParamInfo {
	return ParamInfo{
		Name:     p.Name,
		Type:     p.Type.String(),
		Channel:  t.ChannelName(p),
		Optional: p.Optional,
		ByRef:    p.ByRef,
		IsReturn: p.IsReturn,
	}
}
