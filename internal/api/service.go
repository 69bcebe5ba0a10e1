package api

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "depgraph.v1.GraphService"

// RPC method names.
const (
	MethodHealth       = "Health"
	MethodCreateNode   = "CreateNode"
	MethodGetNode      = "GetNode"
	MethodResolveNode  = "ResolveNode"
	MethodReopenNode   = "ReopenNode"
	MethodDeleteNode   = "DeleteNode"
	MethodBlockedBy    = "BlockedBy"
	MethodBlocking     = "Blocking"
	MethodDependencies = "Dependencies"
	MethodAddEdge      = "AddEdge"
	MethodGetEdge      = "GetEdge"
	MethodRemoveEdge   = "RemoveEdge"
	MethodCheckEdge    = "CheckEdge"
	MethodGetGraph     = "GetGraph"
)

// FullMethod returns the "/service/method" path of an RPC.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}
