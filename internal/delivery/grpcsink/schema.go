package grpcsink

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/JakeFAU/itemrelay/internal/errors"
)

// Message and method names of the feed ingress contract.
const (
	ServiceName  = "IngressService"
	MethodName   = "SubmitFeedMessage"
	FeedMessage  = "FeedMessage"
	FeedResponse = "FeedResponse"
)

// Schema holds the runtime descriptors of the ingress contract for one proto
// package.
type Schema struct {
	Service  string
	Method   string
	Feed     protoreflect.MessageDescriptor
	Response protoreflect.MessageDescriptor
}

// NewSchema builds the contract descriptors for pkg:
//
//	message FeedMessage { string token = 1; string feedId = 2; string messageId = 3; string message = 4; }
//	message FeedResponse {}
//	service IngressService { rpc SubmitFeedMessage(FeedMessage) returns (FeedResponse); }
//
// Fields the server adds to its response are kept as unknown fields.
func NewSchema(pkg string) (*Schema, error) {
	if pkg == "" {
		return nil, errors.New("proto package is required")
	}
	stringField := func(name string, number int32) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			JsonName: proto.String(name),
			Number:   proto.Int32(number),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		}
	}
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(pkg + "/feed.proto"),
		Package: proto.String(pkg),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String(FeedMessage),
				Field: []*descriptorpb.FieldDescriptorProto{
					stringField("token", 1),
					stringField("feedId", 2),
					stringField("messageId", 3),
					stringField("message", 4),
				},
			},
			{Name: proto.String(FeedResponse)},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String(ServiceName),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       proto.String(MethodName),
				InputType:  proto.String("." + pkg + "." + FeedMessage),
				OutputType: proto.String("." + pkg + "." + FeedResponse),
			}},
		}},
	}
	fd, err := protodesc.NewFile(fdp, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "build descriptors for package %q", pkg)
	}
	service := pkg + "." + ServiceName
	return &Schema{
		Service:  service,
		Method:   "/" + service + "/" + MethodName,
		Feed:     fd.Messages().ByName(FeedMessage),
		Response: fd.Messages().ByName(FeedResponse),
	}, nil
}
