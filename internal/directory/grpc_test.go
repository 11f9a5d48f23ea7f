package directory

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	protoPackage = regexp.MustCompile(`(?m)^package\s+([\w.]+)\s*;`)
	protoService = regexp.MustCompile(`(?m)^service\s+(\w+)\s*\{`)
	protoRPC     = regexp.MustCompile(`(?m)^\s*rpc\s+(\w+)\s*\(\s*([\w.]+)\s*\)\s*returns\s*\(\s*([\w.]+)\s*\)`)
)

func TestServiceDescMatchesProto(t *testing.T) {
	src, err := os.ReadFile(filepath.Join("..", "..", "api", "citybuilder", "v1", "directory.proto"))
	require.NoError(t, err)

	pkg := protoPackage.FindSubmatch(src)
	require.NotNil(t, pkg, "proto declares no package")
	svc := protoService.FindSubmatch(src)
	require.NotNil(t, svc, "proto declares no service")
	assert.Equal(t, ServiceName, string(pkg[1])+"."+string(svc[1]))
	assert.Equal(t, ServiceName, DirectoryServiceDesc.ServiceName)

	rpcs := protoRPC.FindAllSubmatch(src, -1)
	require.Len(t, rpcs, len(DirectoryServiceDesc.Methods)+len(DirectoryServiceDesc.Streams))
	for i, m := range DirectoryServiceDesc.Methods {
		assert.Equal(t, m.MethodName, string(rpcs[i][1]))
	}
	assert.Equal(t, "google.protobuf.Empty", string(rpcs[0][2]))
	assert.Equal(t, "google.protobuf.Struct", string(rpcs[0][3]))
	assert.Equal(t, "/"+ServiceName+"/"+string(rpcs[0][1]), listRoomsMethod)
}
