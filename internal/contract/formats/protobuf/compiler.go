package protobuf

import (
	"context"
	"fmt"
	"strings"

	"github.com/aevon-lab/eventkernel/internal/contract"
	"github.com/bufbuild/protocompile"
)

// Compiler compiles protobuf contract definitions.
type Compiler struct{}

func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile parses a .proto definition. The first top-level message is the payload shape.
func (c *Compiler) Compile(ctx context.Context, ct *contract.Contract) (*contract.Compiled, error) {
	if ct.Format != contract.FormatProtobuf {
		return nil, fmt.Errorf("expected protobuf format, got %s", ct.Format)
	}

	fileName := fmt.Sprintf("%s_v%d.proto", strings.ReplaceAll(ct.EventType, ".", "_"), ct.Version)

	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&singleFileResolver{
			fileName: fileName,
			content:  string(ct.Definition),
		}),
		SourceInfoMode: protocompile.SourceInfoNone,
	}

	files, err := compiler.Compile(ctx, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to compile proto: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files compiled")
	}

	messages := files[0].Messages()
	if messages.Len() == 0 {
		return nil, fmt.Errorf("proto must define at least one message")
	}

	return &contract.Compiled{
		EventType:       ct.EventType,
		Version:         ct.Version,
		Format:          contract.FormatProtobuf,
		StrictMode:      ct.StrictMode,
		ProtoDescriptor: messages.Get(0),
	}, nil
}

type singleFileResolver struct {
	fileName string
	content  string
}

func (r *singleFileResolver) FindFileByPath(path string) (protocompile.SearchResult, error) {
	if path == r.fileName {
		return protocompile.SearchResult{Source: strings.NewReader(r.content)}, nil
	}
	return protocompile.SearchResult{}, fmt.Errorf("file not found: %s", path)
}
