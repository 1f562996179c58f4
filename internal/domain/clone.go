package domain

// Clone returns a deep copy. The aggregate hands out and stores clones only,
// so no two owners ever share a slice.
func (s InstanceState) Clone() InstanceState {
	out := s
	if s.HTTPS != nil {
		out.HTTPS = BoolPtr(*s.HTTPS)
	}
	out.Restreams = cloneRestreams(s.Restreams)
	if s.Restreams != nil && out.Restreams == nil {
		out.Restreams = []Restream{}
	}
	if s.Settings != nil {
		settings := *s.Settings
		out.Settings = &settings
	}
	if s.ServerInfo != nil {
		info := *s.ServerInfo
		out.ServerInfo = &info
	}
	return out
}

func cloneRestreams(in []Restream) []Restream {
	if len(in) == 0 {
		return nil
	}
	out := make([]Restream, len(in))
	for i, r := range in {
		out[i] = r
		out[i].Input = cloneInput(r.Input)
		out[i].Outputs = cloneOutputs(r.Outputs)
	}
	return out
}

func cloneInput(in Input) Input {
	out := in
	if len(in.Endpoints) > 0 {
		out.Endpoints = append([]Endpoint(nil), in.Endpoints...)
	}
	if in.Src != nil {
		src := *in.Src
		if len(in.Src.Inputs) > 0 {
			src.Inputs = make([]Input, len(in.Src.Inputs))
			for i, fi := range in.Src.Inputs {
				src.Inputs[i] = cloneInput(fi)
			}
		}
		out.Src = &src
	}
	return out
}

func cloneOutputs(in []Output) []Output {
	if in == nil {
		return nil
	}
	out := make([]Output, len(in))
	for i, o := range in {
		out[i] = o
		if len(o.Mixins) > 0 {
			out[i].Mixins = append([]Mixin(nil), o.Mixins...)
		}
	}
	return out
}
