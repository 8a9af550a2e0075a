package pathinfo

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
)

// Canonical wire encoding of PathInfo, following the same field-numbering
// convention as castorev1/wire.go: node=1, references=2, narinfo=3, and
// within narinfo nar_sha256=1, nar_size=2, signatures=3 (name=1, data=2),
// reference_names=4, deriver=5, ca=6.
const (
	fieldPIInodeNode       = protowire.Number(1)
	fieldPINodeReferences  = protowire.Number(2)
	fieldPINodeNarinfo     = protowire.Number(3)
	fieldNINarSha256       = protowire.Number(1)
	fieldNINarSize         = protowire.Number(2)
	fieldNISignatures      = protowire.Number(3)
	fieldNIReferenceNames  = protowire.Number(4)
	fieldNIDeriver         = protowire.Number(5)
	fieldNICA              = protowire.Number(6)
	fieldSigName           = protowire.Number(1)
	fieldSigData           = protowire.Number(2)
)

func MarshalPathInfo(p *PathInfo) ([]byte, error) {
	var b []byte
	if p.Node != nil {
		nodeBytes, err := castorev1.MarshalNode(p.Node)
		if err != nil {
			return nil, fmt.Errorf("marshaling node: %w", err)
		}
		b = protowire.AppendTag(b, fieldPIInodeNode, protowire.BytesType)
		b = protowire.AppendBytes(b, nodeBytes)
	}
	for _, ref := range p.References {
		b = protowire.AppendTag(b, fieldPINodeReferences, protowire.BytesType)
		b = protowire.AppendBytes(b, ref)
	}
	if p.Narinfo != nil {
		narinfoBytes := marshalNarInfo(p.Narinfo)
		b = protowire.AppendTag(b, fieldPINodeNarinfo, protowire.BytesType)
		b = protowire.AppendBytes(b, narinfoBytes)
	}
	return b, nil
}

func marshalNarInfo(ni *NarInfo) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldNINarSha256, protowire.BytesType)
	b = protowire.AppendBytes(b, ni.NarSha256[:])
	b = protowire.AppendTag(b, fieldNINarSize, protowire.VarintType)
	b = protowire.AppendVarint(b, ni.NarSize)
	for _, sig := range ni.Signatures {
		var sb []byte
		sb = protowire.AppendTag(sb, fieldSigName, protowire.BytesType)
		sb = protowire.AppendBytes(sb, []byte(sig.Name))
		sb = protowire.AppendTag(sb, fieldSigData, protowire.BytesType)
		sb = protowire.AppendBytes(sb, sig.Data)

		b = protowire.AppendTag(b, fieldNISignatures, protowire.BytesType)
		b = protowire.AppendBytes(b, sb)
	}
	for _, name := range ni.ReferenceNames {
		b = protowire.AppendTag(b, fieldNIReferenceNames, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(name))
	}
	if ni.Deriver != "" {
		b = protowire.AppendTag(b, fieldNIDeriver, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(ni.Deriver))
	}
	if ni.CA != "" {
		b = protowire.AppendTag(b, fieldNICA, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(ni.CA))
	}
	return b
}

func UnmarshalPathInfo(b []byte) (*PathInfo, error) {
	p := &PathInfo{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 || typ != protowire.BytesType {
			return nil, fmt.Errorf("invalid tag in PathInfo: %w", protowire.ParseError(n))
		}
		b = b[n:]
		payload, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("invalid field in PathInfo: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldPIInodeNode:
			node, err := castorev1.UnmarshalNode(payload)
			if err != nil {
				return nil, fmt.Errorf("unmarshaling node: %w", err)
			}
			p.Node = node
		case fieldPINodeReferences:
			p.References = append(p.References, append([]byte(nil), payload...))
		case fieldPINodeNarinfo:
			ni, err := unmarshalNarInfo(payload)
			if err != nil {
				return nil, err
			}
			p.Narinfo = ni
		default:
			return nil, fmt.Errorf("unknown field number %d in PathInfo", num)
		}
	}
	return p, nil
}

func unmarshalNarInfo(b []byte) (*NarInfo, error) {
	ni := &NarInfo{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("invalid tag in NarInfo: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldNINarSha256:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || typ != protowire.BytesType || len(v) != 32 {
				return nil, fmt.Errorf("invalid nar_sha256 in NarInfo")
			}
			copy(ni.NarSha256[:], v)
			b = b[n:]
		case fieldNINarSize:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 || typ != protowire.VarintType {
				return nil, fmt.Errorf("invalid nar_size in NarInfo")
			}
			ni.NarSize = v
			b = b[n:]
		case fieldNISignatures:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("invalid signature in NarInfo")
			}
			sig, err := unmarshalSignature(v)
			if err != nil {
				return nil, err
			}
			ni.Signatures = append(ni.Signatures, sig)
			b = b[n:]
		case fieldNIReferenceNames:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("invalid reference_name in NarInfo")
			}
			ni.ReferenceNames = append(ni.ReferenceNames, string(v))
			b = b[n:]
		case fieldNIDeriver:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("invalid deriver in NarInfo")
			}
			ni.Deriver = string(v)
			b = b[n:]
		case fieldNICA:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("invalid ca in NarInfo")
			}
			ni.CA = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("invalid field in NarInfo")
			}
			b = b[n:]
		}
	}
	return ni, nil
}

func unmarshalSignature(b []byte) (Signature, error) {
	var sig Signature
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return sig, fmt.Errorf("invalid tag in Signature: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldSigName:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return sig, fmt.Errorf("invalid name in Signature")
			}
			sig.Name = string(v)
			b = b[n:]
		case fieldSigData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return sig, fmt.Errorf("invalid data in Signature")
			}
			sig.Data = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return sig, fmt.Errorf("invalid field in Signature")
			}
			b = b[n:]
		}
	}
	return sig, nil
}
